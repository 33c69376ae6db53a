package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"roomchat/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm: %v", err)
	}
	return New(gdb), mock, func() { sqlDB.Close() }
}

func TestInsertMessage_WriteFailure(t *testing.T) {
	s, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "messages"`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	msg := &models.Message{RoomID: "r1", Sender: "bob", Kind: models.KindText, Body: "hi"}
	if err := s.InsertMessage(context.Background(), msg); err == nil {
		t.Fatal("expected error, got nil")
	}
	if msg.ID != 0 {
		t.Errorf("failed insert should not assign an id, got %d", msg.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestQueryMessages_QueryFailure(t *testing.T) {
	s, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE room_id = $1`)).
		WillReturnError(errors.New("connection reset"))

	if _, err := s.QueryMessages(context.Background(), "r1", 50); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetLoginAttempt_NotFound(t *testing.T) {
	s, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "login_attempts" WHERE email = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"email", "attempts", "lockout_until", "last_attempt"}))

	if _, err := s.GetLoginAttempt(context.Background(), "a@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLoginAttempt() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
