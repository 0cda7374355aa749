package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/quickpayplatform/autocue/internal/models"
)

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

func newCueRepo(t *testing.T) (*CueSQLite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		_ = db.Close()
	})
	return NewCueSQLite(db), mock
}

var cueCols = []string{"id", "venue_id", "cue_number", "cue_list", "fade_time", "notes", "approval_label", "status",
	"submitted_by", "approved_by", "executed_at", "created_at", "updated_at"}

func TestCueCreate_InsertsCueAndChannels(t *testing.T) {
	repo, mock := newCueRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertCueSQL)).
		WithArgs(sqlmock.AnyArg(), "venue-1", 101, 1, 3.5, "warm wash", "PENDING", 7, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertCueChannelSQL)).
		WithArgs(sqlmock.AnyArg(), 0, 1, 50).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertCueChannelSQL)).
		WithArgs(sqlmock.AnyArg(), 1, 2, 75).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c := &models.Cue{
		VenueID:     "venue-1",
		CueNumber:   101,
		CueList:     1,
		FadeTime:    3.5,
		Notes:       "warm wash",
		SubmittedBy: 7,
		Channels:    []models.CueChannel{{Channel: 1, Level: 50}, {Channel: 2, Level: 75}},
	}
	if err := repo.Create(ctx(t), c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID == "" || c.Status != models.CueStatusPending || c.CreatedAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestCueCreate_ChannelFailureRollsBack(t *testing.T) {
	repo, mock := newCueRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertCueSQL)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertCueChannelSQL)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Create(ctx(t), &models.Cue{VenueID: "v", CueNumber: 1, CueList: 1,
		Channels: []models.CueChannel{{Channel: 1, Level: 10}}})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected channel error, got %v", err)
	}
}

func TestCueGet(t *testing.T) {
	repo, mock := newCueRepo(t)
	now := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(selectCueSQL)).
		WithArgs("cue-1").
		WillReturnRows(sqlmock.NewRows(cueCols).
			AddRow("cue-1", "venue-1", 101, 1, 3.5, nil, "Act 1 open", "APPROVED", int64(7), int64(9), nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(selectChannelsSQL)).
		WithArgs("cue-1").
		WillReturnRows(sqlmock.NewRows([]string{"channel", "level"}).AddRow(1, 50).AddRow(2, 75))

	c, err := repo.Get(ctx(t), "cue-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Status != models.CueStatusApproved || c.ApprovalLabel != "Act 1 open" || c.ApprovedBy != 9 || c.Notes != "" {
		t.Fatalf("unexpected cue %+v", c)
	}
	if len(c.Channels) != 2 || c.Channels[1] != (models.CueChannel{Channel: 2, Level: 75}) {
		t.Fatalf("unexpected channels %+v", c.Channels)
	}
	if c.ExecutedAt != nil {
		t.Fatalf("executed_at should be nil")
	}
}

func TestCueGet_NotFound(t *testing.T) {
	repo, mock := newCueRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectCueSQL)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cueCols))

	c, err := repo.Get(ctx(t), "missing")
	if err != nil || c != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", c, err)
	}
}

func TestCueListApproved_OldestFirstWithChannels(t *testing.T) {
	repo, mock := newCueRepo(t)
	t1 := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(selectApprovedSQL)).
		WillReturnRows(sqlmock.NewRows(cueCols).
			AddRow("a", "v", 1, 1, 0.0, nil, nil, "APPROVED", nil, nil, nil, t1, t1).
			AddRow("b", "v", 2, 1, 0.0, nil, nil, "APPROVED", nil, nil, nil, t2, t2))
	mock.ExpectQuery(regexp.QuoteMeta(selectChannelsSQL)).WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"channel", "level"}).AddRow(1, 10))
	mock.ExpectQuery(regexp.QuoteMeta(selectChannelsSQL)).WithArgs("b").
		WillReturnRows(sqlmock.NewRows([]string{"channel", "level"}))

	cues, err := repo.ListApproved(ctx(t))
	if err != nil {
		t.Fatalf("ListApproved: %v", err)
	}
	if len(cues) != 2 || cues[0].ID != "a" || cues[1].ID != "b" {
		t.Fatalf("unexpected order %+v", cues)
	}
	if len(cues[0].Channels) != 1 || len(cues[1].Channels) != 0 {
		t.Fatalf("unexpected channels %+v / %+v", cues[0].Channels, cues[1].Channels)
	}
}

func TestCueTransition(t *testing.T) {
	tests := []struct {
		name    string
		to      models.CueStatus
		rows    int64
		want    bool
		wantErr bool
	}{
		{name: "executed", to: models.CueStatusExecuted, rows: 1, want: true},
		{name: "failed", to: models.CueStatusFailed, rows: 1, want: true},
		{name: "lost race", to: models.CueStatusExecuted, rows: 0, want: false},
		{name: "db error", to: models.CueStatusFailed, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newCueRepo(t)
			exp := mock.ExpectExec(regexp.QuoteMeta(transitionCueSQL)).
				WithArgs(string(tt.to), sqlmock.AnyArg(), sqlmock.AnyArg(), "cue-1", "APPROVED")
			if tt.wantErr {
				exp.WillReturnError(errors.New("locked"))
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.rows))
			}

			got, err := repo.Transition(ctx(t), "cue-1", models.CueStatusApproved, tt.to, time.Now())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Transition: %v", err)
			}
			if got != tt.want {
				t.Fatalf("moved = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCueApprove_StoresLabel(t *testing.T) {
	repo, mock := newCueRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(approveCueSQL)).
		WithArgs(9, "Act 1 open", sqlmock.AnyArg(), "cue-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Approve(ctx(t), "cue-1", 9, "Act 1 open", time.Now())
	if err != nil || !ok {
		t.Fatalf("Approve = %v, %v", ok, err)
	}
}

func TestCueReject_NotPending(t *testing.T) {
	repo, mock := newCueRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(rejectCueSQL)).
		WithArgs(9, sqlmock.AnyArg(), "cue-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Reject(ctx(t), "cue-1", 9, time.Now())
	if err != nil || ok {
		t.Fatalf("Reject = %v, %v; want false, nil", ok, err)
	}
}

func TestCueNumberTaken(t *testing.T) {
	repo, mock := newCueRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectNumberTakenSQL)).
		WithArgs("venue-1", 1, 101, "cue-2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	taken, err := repo.NumberTaken(ctx(t), "venue-1", 1, 101, "cue-2")
	if err != nil || !taken {
		t.Fatalf("NumberTaken = %v, %v", taken, err)
	}
}
