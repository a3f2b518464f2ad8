//go:build unit

package dao

import (
	"database/sql"
	"regexp"
	"testing"

	"gitee.com/flycash/message-platform/internal/errs"
	"github.com/DATA-DOG/go-sqlmock"
	driver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func TestMessageDAOCreateDuplicate(t *testing.T) {
	t.Parallel()
	gdb, mock := newMockDB(t)
	d := NewMessageDAO(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `message_records`")).
		WillReturnError(&driver.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	_, err := d.Create(t.Context(), Message{
		ID:             1,
		IdempotencyKey: sql.NullString{String: "k1", Valid: true},
	})
	assert.ErrorIs(t, err, errs.ErrMessageDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageDAOGetByIDNotFound(t *testing.T) {
	t.Parallel()
	gdb, mock := newMockDB(t)
	d := NewMessageDAO(gdb)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `message_records`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := d.GetByID(t.Context(), 42)
	assert.ErrorIs(t, err, errs.ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageDAOMarkSending(t *testing.T) {
	t.Parallel()

	t.Run("占据成功", func(t *testing.T) {
		t.Parallel()
		gdb, mock := newMockDB(t)
		d := NewMessageDAO(gdb)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `message_records` SET .+ WHERE id = \\? AND version = \\? AND status IN \\(\\?,\\?\\)").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, d.MarkSending(t.Context(), 1, 1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("版本竞争失败", func(t *testing.T) {
		t.Parallel()
		gdb, mock := newMockDB(t)
		d := NewMessageDAO(gdb)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `message_records` SET .+").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := d.MarkSending(t.Context(), 1, 1)
		assert.ErrorIs(t, err, errs.ErrMessageVersionMismatch)
	})
}

func TestMessageDAOMarkSuccessVersionMismatch(t *testing.T) {
	t.Parallel()
	gdb, mock := newMockDB(t)
	d := NewMessageDAO(gdb)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `message_records` SET .+ WHERE id = \\? AND version = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := d.MarkSuccess(t.Context(), Message{ID: 1, Version: 3})
	assert.ErrorIs(t, err, errs.ErrMessageVersionMismatch)
}

func TestMessageDAORequeue(t *testing.T) {
	t.Parallel()

	t.Run("非失败状态拒绝", func(t *testing.T) {
		t.Parallel()
		gdb, mock := newMockDB(t)
		d := NewMessageDAO(gdb)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `message_records`")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "status", "retry_count", "max_retry", "version"}).
				AddRow(1, "SUCCESS", 0, 3, 2))
		mock.ExpectRollback()

		_, err := d.Requeue(t.Context(), 1)
		assert.ErrorIs(t, err, errs.ErrRequeueNotAllowed)
	})

	t.Run("预算耗尽时清零重试计数", func(t *testing.T) {
		t.Parallel()
		gdb, mock := newMockDB(t)
		d := NewMessageDAO(gdb)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `message_records`")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "status", "retry_count", "max_retry", "version"}).
				AddRow(1, "FAILED", 3, 3, 5))
		mock.ExpectExec("UPDATE `message_records` SET .+ WHERE id = \\? AND version = \\?").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		msg, err := d.Requeue(t.Context(), 1)
		require.NoError(t, err)
		assert.Equal(t, "PENDING", msg.Status)
		assert.Equal(t, int32(0), msg.RetryCount)
		assert.Equal(t, 6, msg.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("未耗尽时保留重试计数", func(t *testing.T) {
		t.Parallel()
		gdb, mock := newMockDB(t)
		d := NewMessageDAO(gdb)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `message_records`")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "status", "retry_count", "max_retry", "version"}).
				AddRow(1, "FAILED", 1, 3, 2))
		mock.ExpectExec("UPDATE `message_records` SET .+").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		msg, err := d.Requeue(t.Context(), 1)
		require.NoError(t, err)
		assert.Equal(t, int32(1), msg.RetryCount)
	})
}

func TestMessageDAOFindDefaultLimit(t *testing.T) {
	t.Parallel()
	gdb, mock := newMockDB(t)
	d := NewMessageDAO(gdb)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `message_records`")).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))
	// 未指定分页时不能落成 LIMIT 0
	mock.ExpectQuery("SELECT \\* FROM `message_records` .*LIMIT 20").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	msgs, total, err := d.Find(t.Context(), MessageQuery{Status: "FAILED"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, msgs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
