package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// Executor インターフェースに対するモック実装。
// 複数回のExecContext呼び出しをクエリごとに記録する。
type mockExecutor struct {
	queries []string
	args    [][]interface{}
	result  sql.Result
	err     error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.queries = append(m.queries, query)
	m.args = append(m.args, args)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_SetsRetentionDefaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{result: &fakeResult{}}, newTestLogger(&buf))

	if job.JobRetentionDays != 90 {
		t.Errorf("JobRetentionDays = %d, want 90", job.JobRetentionDays)
	}
	if job.ReminderRetentionDays != 180 {
		t.Errorf("ReminderRetentionDays = %d, want 180", job.ReminderRetentionDays)
	}
}

func TestCleanupJob_Run_ExecutesBothDeletes(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 5}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(mock.queries) != 2 {
		t.Fatalf("実行されたクエリ数 = %d, want 2", len(mock.queries))
	}
	if !strings.Contains(mock.queries[0], "DELETE FROM scrape_jobs") {
		t.Errorf("1つ目のクエリがscrape_jobsのDELETEでない: %s", mock.queries[0])
	}
	if !strings.Contains(mock.queries[0], "'success', 'error'") {
		t.Errorf("終端状態のみが対象であるべき: %s", mock.queries[0])
	}
	if !strings.Contains(mock.queries[1], "DELETE FROM reminder_instances") {
		t.Errorf("2つ目のクエリがreminder_instancesのDELETEでない: %s", mock.queries[1])
	}
	if !strings.Contains(mock.queries[1], "'sent', 'cancelled', 'failed'") {
		t.Errorf("終端状態のみが対象であるべき: %s", mock.queries[1])
	}
}

func TestCleanupJob_Run_PassesRetentionIntervals(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.JobRetentionDays = 30
	job.ReminderRetentionDays = 60

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(mock.args[0]) != 1 || mock.args[0][0] != "30 days" {
		t.Errorf("scrape_jobsの引数 = %v, want [30 days]", mock.args[0])
	}
	if len(mock.args[1]) != 1 || mock.args[1][0] != "60 days" {
		t.Errorf("reminder_instancesの引数 = %v, want [60 days]", mock.args[1])
	}
}

func TestCleanupJob_Run_NoRowsIsSuccess(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 0}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Errorf("削除対象ゼロでもエラーにならないべき: %v", err)
	}
}

func TestCleanupJob_Run_DBError(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: errors.New("connection refused")}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("DBエラー時はエラーを返すべき")
	}
}

func TestCleanupJob_Run_LogsDeletedCounts(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 7}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのJSONパースに失敗: %v", err)
	}
	if entry["scrape_jobs_deleted"] != float64(7) {
		t.Errorf("scrape_jobs_deleted = %v, want 7", entry["scrape_jobs_deleted"])
	}
	if entry["reminders_deleted"] != float64(7) {
		t.Errorf("reminders_deleted = %v, want 7", entry["reminders_deleted"])
	}
}
