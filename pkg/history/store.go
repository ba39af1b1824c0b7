package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

const schema = `
	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		flow TEXT NOT NULL,
		status TEXT NOT NULL,
		code TEXT,
		message TEXT,
		referenceText TEXT,
		recognizedText TEXT,
		pronunciation REAL,
		accuracy REAL,
		fluency REAL,
		completeness REAL,
		createdAt REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(createdAt);
`

// Store 基于 SQLite 的评测记录
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（必要时创建）记录数据库，path 为 ":memory:" 时使用内存库
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := utils.EnsureDirExists(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// 内存库每个连接相互独立，写入也只能串行
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// Record 保存一次评测的结果摘要
func (s *Store) Record(ctx context.Context, flow models.Flow, resp *models.Response) error {
	entry := EntryFromResponse(flow, resp, s.now())
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	var pron, acc, flu, comp sql.NullFloat64
	if entry.Scores != nil {
		pron = sql.NullFloat64{Float64: entry.Scores.Pronunciation, Valid: true}
		acc = sql.NullFloat64{Float64: entry.Scores.Accuracy, Valid: true}
		flu = sql.NullFloat64{Float64: entry.Scores.Fluency, Valid: true}
		comp = sql.NullFloat64{Float64: entry.Scores.Completeness, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assessments (id, flow, status, code, message, referenceText, recognizedText,
			pronunciation, accuracy, fluency, completeness, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, string(entry.Flow), entry.Status, entry.Code, entry.Message,
		entry.ReferenceText, entry.RecognizedText, pron, acc, flu, comp, unixFromTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

// Recent 返回最近的记录，按时间倒序
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow, status, code, message, referenceText, recognizedText,
			pronunciation, accuracy, fluency, completeness, createdAt
		FROM assessments
		ORDER BY createdAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                       Entry
			flow                    string
			code, message, ref, rec sql.NullString
			pron, acc, flu, comp    sql.NullFloat64
			createdAt               float64
		)
		if err := rows.Scan(&e.ID, &flow, &e.Status, &code, &message, &ref, &rec,
			&pron, &acc, &flu, &comp, &createdAt); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		e.Flow = models.Flow(flow)
		e.Code = code.String
		e.Message = message.String
		e.ReferenceText = ref.String
		e.RecognizedText = rec.String
		if pron.Valid {
			e.Scores = &models.Scores{
				Pronunciation: pron.Float64,
				Accuracy:      acc.Float64,
				Fluency:       flu.Float64,
				Completeness:  comp.Float64,
			}
		}
		e.CreatedAt = timeFromUnix(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary 按流程统计总数、成功数与平均发音得分
func (s *Store) Summary(ctx context.Context) ([]FlowSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow,
			COUNT(*),
			SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END),
			COALESCE(AVG(pronunciation), 0)
		FROM assessments
		GROUP BY flow
		ORDER BY flow
	`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []FlowSummary
	for rows.Next() {
		var (
			fs   FlowSummary
			flow string
		)
		if err := rows.Scan(&flow, &fs.Total, &fs.Succeeded, &fs.AvgPronunciation); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		fs.Flow = models.Flow(flow)
		out = append(out, fs)
	}
	return out, rows.Err()
}
