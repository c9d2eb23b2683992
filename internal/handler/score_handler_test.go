package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lzhao-dev/school-records-api/internal/middleware"
	"github.com/lzhao-dev/school-records-api/internal/models"
	"github.com/lzhao-dev/school-records-api/internal/service"
)

type stubScoreRepo struct {
	lastFilter models.ScoreFilter
	rows       []models.ScoreDetail
	byID       map[string]*models.ScoreDetail
}

func (s *stubScoreRepo) List(_ context.Context, filter models.ScoreFilter) ([]models.ScoreDetail, int, error) {
	s.lastFilter = filter
	var out []models.ScoreDetail
	for _, row := range s.rows {
		if filter.StudentNumber != "" && row.StudentNumber != filter.StudentNumber {
			continue
		}
		out = append(out, row)
	}
	return out, len(out), nil
}

func (s *stubScoreRepo) ListByStudentNumber(context.Context, string) ([]models.Score, error) {
	return nil, nil
}

func (s *stubScoreRepo) FindByID(_ context.Context, id string) (*models.ScoreDetail, error) {
	if detail, ok := s.byID[id]; ok {
		return detail, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubScoreRepo) Create(context.Context, sqlx.ExtContext, *models.Score) error { return nil }
func (s *stubScoreRepo) Update(context.Context, *models.Score) error                  { return nil }
func (s *stubScoreRepo) Delete(context.Context, string) error                         { return nil }
func (s *stubScoreRepo) DeleteByIDs(context.Context, []string) error                  { return nil }

func scoreDetail(id, number, name string) models.ScoreDetail {
	return models.ScoreDetail{
		Score: models.Score{
			ID: id, ExamTitle: "期中考试", StudentNumber: number, StudentName: name,
			GradeID: "grade-1",
		},
		GradeName: "一年级1班",
	}
}

func newScoreListContext(t *testing.T, target string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	c.Set(middleware.ContextUserKey, claims)
	return c, rec
}

func newScoreHandlerFixture() (*ScoreHandler, *stubScoreRepo) {
	repo := &stubScoreRepo{
		rows: []models.ScoreDetail{
			scoreDetail("score-1", "20230001", "张三"),
			scoreDetail("score-2", "20230002", "李四"),
		},
		byID: map[string]*models.ScoreDetail{},
	}
	for i := range repo.rows {
		repo.byID[repo.rows[i].ID] = &repo.rows[i]
	}
	svc := service.NewScoreService(nil, repo, nil, validator.New(), zap.NewNop())
	return NewScoreHandler(svc), repo
}

func TestScoreListStudentScopedToOwnRows(t *testing.T) {
	h, repo := newScoreHandlerFixture()
	claims := &models.JWTClaims{LoginID: "20230001", Role: models.RoleStudent}
	c, rec := newScoreListContext(t, "/scores?grade_id=grade-1", claims)

	h.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "20230001", repo.lastFilter.StudentNumber)
	assert.Contains(t, rec.Body.String(), "20230001")
	assert.NotContains(t, rec.Body.String(), "20230002")
}

func TestScoreListAdminSeesAllRows(t *testing.T) {
	h, repo := newScoreHandlerFixture()
	claims := &models.JWTClaims{LoginID: "admin", Role: models.RoleAdmin}
	c, rec := newScoreListContext(t, "/scores", claims)

	h.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, repo.lastFilter.StudentNumber)
	assert.Contains(t, rec.Body.String(), "20230002")
}

func TestScoreGetOtherStudentForbidden(t *testing.T) {
	h, _ := newScoreHandlerFixture()
	claims := &models.JWTClaims{LoginID: "20230001", Role: models.RoleStudent}
	c, rec := newScoreListContext(t, "/scores/score-2", claims)
	c.Params = gin.Params{{Key: "id", Value: "score-2"}}

	h.Get(c)

	require.Equal(t, http.StatusForbidden, rec.Code)
}
