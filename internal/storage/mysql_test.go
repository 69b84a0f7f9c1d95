package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"resumind/internal/storage/models"
)

func newMockMySQL(t *testing.T) (*MySQL, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	m, err := NewMySQLFromDB(db, "resumind_test")
	require.NoError(t, err)
	return m, mock
}

func TestUpsertSubmissionWritesOutboxInSameTransaction(t *testing.T) {
	m, mock := newMockMySQL(t)

	score := 72
	scores, err := models.MapToJSON(map[string]int{"ATS": 70, "content": 64})
	require.NoError(t, err)
	sub := &models.ResumeSubmission{
		SubmissionID:   "6f1c1c1e-4d1a-4c55-9a53-5d0f1b1f2a10",
		CompanyName:    "Acme",
		JobTitle:       "Backend Engineer",
		State:          "completed",
		FeedbackSource: "ai",
		OverallScore:   &score,
		CategoryScores: scores,
	}
	event := &models.OutboxMessage{
		AggregateID:      sub.SubmissionID,
		EventType:        EventResumeAnalyzed,
		Payload:          []byte(`{"resume_id":"6f1c1c1e-4d1a-4c55-9a53-5d0f1b1f2a10"}`),
		TargetExchange:   "resume.events.exchange",
		TargetRoutingKey: "resume.analyzed",
		Status:           models.OutboxStatusPending,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `resume_submissions`.*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `outbox_messages`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	require.NoError(t, m.UpsertSubmission(context.Background(), sub, event))
	assert.Equal(t, uint64(7), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSubmissionRollsBackOnOutboxFailure(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `resume_submissions`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `outbox_messages`").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := m.UpsertSubmission(context.Background(),
		&models.ResumeSubmission{SubmissionID: "id-1", State: "failed"},
		&models.OutboxMessage{AggregateID: "id-1", EventType: EventResumeFailed, Payload: []byte(`{}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "写入发件箱消息失败")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSubmissions(t *testing.T) {
	m, mock := newMockMySQL(t)
	now := time.Now()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `resume_submissions`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT \\* FROM `resume_submissions` ORDER BY created_at DESC LIMIT").
		WillReturnRows(sqlmock.NewRows([]string{"submission_id", "job_title", "state", "overall_score", "category_scores", "created_at"}).
			AddRow("b", "SRE", "completed", 80, []byte(`{"ATS":80}`), now).
			AddRow("a", "Backend", "completed", nil, nil, now.Add(-time.Hour)))

	subs, total, err := m.ListSubmissions(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, subs, 2)
	assert.Equal(t, "b", subs[0].SubmissionID)
	require.NotNil(t, subs[0].OverallScore)
	assert.Equal(t, 80, *subs[0].OverallScore)
	assert.Nil(t, subs[1].OverallScore)

	scores, err := models.JSONToMap[int](subs[0].CategoryScores)
	require.NoError(t, err)
	assert.Equal(t, 80, scores["ATS"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, gormLogLevel(1))
	assert.Equal(t, logger.Error, gormLogLevel(2))
	assert.Equal(t, logger.Warn, gormLogLevel(3))
	assert.Equal(t, logger.Info, gormLogLevel(0))
}
