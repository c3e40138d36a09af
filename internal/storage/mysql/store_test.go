package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"WChain-Bubbles/internal/classify"
	"WChain-Bubbles/internal/storage"
)

var conversationColumns = []string{"id", "session_id", "created_at", "updated_at"}

var messageColumns = []string{"id", "conversation_id", "role", "content", "tool_calls", "tool_results", "feedback", "model", "created_at"}

func TestEnsureConversationCreates(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertConversationSQL, mockResult{rowsAffected: 1}),
		queryOp(selectConversationSQL, mockRowsData{
			columns: conversationColumns,
			values:  [][]driver.Value{{"conv-1", "session-a", int64(1000), int64(1000)}},
		}).withArgs("conv-1"),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	conv, err := NewStore(db).EnsureConversation(context.Background(), "conv-1", "session-a")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if conv.ID != "conv-1" || conv.SessionID != "session-a" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if !conv.CreatedAt.Equal(time.UnixMilli(1000)) {
		t.Fatalf("unexpected created_at: %v", conv.CreatedAt)
	}
}

func TestEnsureConversationRejectsForeignSession(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertConversationSQL, mockResult{}).failing(&mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry"}),
		queryOp(selectConversationSQL, mockRowsData{
			columns: conversationColumns,
			values:  [][]driver.Value{{"conv-1", "session-b", int64(1), int64(1)}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	_, err := NewStore(db).EnsureConversation(context.Background(), "conv-1", "session-a")
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestEnsureConversationRequiresSession(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, nil)
	defer drv.assertConsumed(t)
	defer db.Close()

	if _, err := NewStore(db).EnsureConversation(context.Background(), "", "  "); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectConversationSQL, mockRowsData{columns: conversationColumns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if _, err := NewStore(db).GetConversation(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAppendMessagesCommitsInOrder(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(5000)
	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(insertMessageSQL, mockResult{lastInsertID: 1, rowsAffected: 1}).
			withArgs("m1", "conv-1", "user", "top holders?", nil, nil, "", "", int64(5000)),
		execOp(insertMessageSQL, mockResult{lastInsertID: 2, rowsAffected: 1}).
			withArgs("m2", "conv-1", "assistant", "here they are", `[{"id":"call-1","name":"getTopHolders","arguments":{"limit":5}}]`, `[{"call_id":"call-1","name":"getTopHolders","content":"{}"}]`, "", "gpt-4o", int64(5001)),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	err := NewStore(db).AppendMessages(context.Background(), "conv-1", []storage.Message{
		{ID: "m1", Role: storage.RoleUser, Content: "top holders?", CreatedAt: at},
		{
			ID:          "m2",
			Role:        storage.RoleAssistant,
			Content:     "here they are",
			Model:       "gpt-4o",
			ToolCalls:   []storage.ToolCall{{ID: "call-1", Name: "getTopHolders", Arguments: []byte(`{"limit":5}`)}},
			ToolResults: []storage.ToolResult{{CallID: "call-1", Name: "getTopHolders", Content: "{}"}},
			CreatedAt:   at.Add(time.Millisecond),
		},
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
}

func TestAppendMessagesRollsBack(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(insertMessageSQL, mockResult{rowsAffected: 1}),
		execOp(insertMessageSQL, mockResult{}).failing(errors.New("disk full")),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	err := NewStore(db).AppendMessages(context.Background(), "conv-1", []storage.Message{
		{Role: storage.RoleUser, Content: "a"},
		{Role: storage.RoleAssistant, Content: "b"},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecentMessagesReturnsOldestFirst(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectRecentMessagesSQL, mockRowsData{
			columns: messageColumns,
			values: [][]driver.Value{
				{"m3", "conv-1", "assistant", "answer", `[{"id":"c1","name":"getHolderCount"}]`, nil, "positive", "gpt-4o-mini", int64(3000)},
				{"m2", "conv-1", "user", "question", nil, nil, "", "", int64(2000)},
			},
		}).withArgs("conv-1", int64(2)),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	msgs, err := NewStore(db).RecentMessages(context.Background(), "conv-1", 2)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m2" || msgs[1].ID != "m3" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Name != "getHolderCount" {
		t.Fatalf("tool calls not decoded: %+v", msgs[1].ToolCalls)
	}
	if msgs[1].Feedback != storage.FeedbackPositive {
		t.Fatalf("feedback lost: %q", msgs[1].Feedback)
	}
}

func TestSetFeedback(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectFeedbackTarget, mockRowsData{
			columns: []string{"seq"},
			values:  [][]driver.Value{{int64(9)}},
		}).withArgs("conv-1", "assistant", "answer"),
		execOp(updateFeedbackSQL, mockResult{rowsAffected: 0}).withArgs("negative", int64(9)),
		queryOp(selectFeedbackTarget, mockRowsData{columns: []string{"seq"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewStore(db)
	ok, err := store.SetFeedback(context.Background(), "conv-1", storage.RoleAssistant, "answer", storage.FeedbackNegative)
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = store.SetFeedback(context.Background(), "conv-1", storage.RoleAssistant, "unknown", storage.FeedbackNegative)
	if err != nil || ok {
		t.Fatalf("expected no match, got %v %v", ok, err)
	}
}

func TestListWallets(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectWalletsSQL, mockRowsData{
			columns: []string{"address", "balance", "transaction_count", "category", "emoji", "label", "is_flagship", "is_exchange", "is_wrapped"},
			values: [][]driver.Value{
				{"0xABC", []byte("1500000.500000000000000000"), int64(12), "Whale", "🐋", nil, int64(0), int64(0), int64(0)},
				{"0xdef", []byte("42.000000000000000000"), int64(3), "Harbor", "⚓", []byte("Some Exchange"), int64(0), int64(1), int64(0)},
			},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	rows, err := NewStore(db).ListWallets(context.Background())
	if err != nil {
		t.Fatalf("list wallets failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Address != "0xabc" || rows[0].Balance.String() != "1500000.5" || rows[0].Category != classify.Whale {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Label == nil || *rows[1].Label != "Some Exchange" || !rows[1].IsExchange {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
}

func TestListActiveKnowledge(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectActiveKnowledgeSQL, mockRowsData{
			columns: []string{"id", "category", "title", "content", "priority", "is_active", "updated_at"},
			values: [][]driver.Value{
				{int64(2), "tiers", "Tier table", "Kraken ...", int64(10), int64(1), int64(2000)},
				{int64(1), "faq", "Bridge", "Bridges ...", int64(1), int64(1), int64(1000)},
			},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	entries, err := NewStore(db).ListActive(context.Background())
	if err != nil {
		t.Fatalf("list active failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Title != "Tier table" || !entries[0].IsActive {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected embedded migrations, got %d", len(files))
	}

	ops := []mockOperation{
		execOp(createSchemaMigrations, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{files[0].version}},
		}),
	}
	for _, file := range files[1:] {
		ops = append(ops, beginOp())
		for _, stmt := range file.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}

	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := NewStore(db).runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSplitSQLStatementsDropsComments(t *testing.T) {
	t.Parallel()

	got := splitSQLStatements("-- header\nCREATE TABLE a (id INT);\n\n-- next\nCREATE TABLE b (id INT);\n")
	if len(got) != 2 || got[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}
