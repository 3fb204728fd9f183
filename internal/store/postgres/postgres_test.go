package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parleyhq/parley/internal/model"
)

func newMockStore(t *testing.T) (*pgStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &pgStore{db: db}, mock
}

func TestIsMember(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT 1 FROM conversation_members`).
		WithArgs("c1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	ok, err := s.Conversations().IsMember(context.Background(), "c1", "u1")
	if err != nil || !ok {
		t.Fatalf("member: ok=%v err=%v", ok, err)
	}

	mock.ExpectQuery(`SELECT 1 FROM conversation_members`).
		WithArgs("c1", "stranger").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	ok, err = s.Conversations().IsMember(context.Background(), "c1", "stranger")
	if err != nil || ok {
		t.Fatalf("non-member must be (false, nil): ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.Users().Create(context.Background(), &model.User{Username: "ada", PasswordHash: "x"})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateConversationMapsPairConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO conversations`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := s.Conversations().Create(context.Background(), &model.Conversation{
		CreatedBy: "u1",
		Members:   []string{"u1", "u2"},
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFindDirectNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT conversation_id FROM conversations WHERE direct_key`).
		WithArgs("u1|u2").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id"}))

	_, err := s.Conversations().FindDirect(context.Background(), "u2", "u1")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteCascadesInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM conversations`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM entries`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM conversation_members`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := s.Conversations().Delete(context.Background(), "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteMissingConversation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM conversations`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := s.Conversations().Delete(context.Background(), "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateEntryBumpsActivity(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO entries`).
		WillReturnRows(sqlmock.NewRows([]string{"creation_time"}).AddRow(now))
	mock.ExpectExec(`UPDATE conversations SET last_activity`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e, err := s.Entries().Create(context.Background(), &model.Entry{
		ConversationID: "c1", SenderID: "u1", Content: "hi",
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if e.EntryID == "" || !e.CreationTime.Equal(now) {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
