package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/aria-ai/aria/pkg/models"
)

// Driver-level failures must surface as wrapped errors, not panics or
// silent drops. sqlmock stands in for a database that went away.

func TestGoalCreateSurfacesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	boom := errors.New("disk I/O error")
	mock.ExpectExec("INSERT INTO goals").WillReturnError(boom)

	gs := &GoalStore{db: db}
	err = gs.Create(context.Background(), &models.Goal{Title: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error %v should wrap the driver error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestBatchRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO skill_invocations")
	mock.ExpectExec("INSERT INTO skill_invocations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO skill_invocations").
		WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	is := &InvocationStore{db: db}
	batch := []*models.SkillInvocation{
		{Skill: "a", Tool: "t"},
		{Skill: "b", Tool: "t"},
	}
	if err := is.RecordBatch(context.Background(), batch); err == nil {
		t.Fatal("expected batch failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}
