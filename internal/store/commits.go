package store

import (
	"context"
	"time"

	"github.com/pavelanni/gradedesk/internal/model"
)

// RecordCommit appends a grade commit to the ledger.
func (s *Store) RecordCommit(ctx context.Context, c model.GradeCommit) (int64, error) {
	if c.CommittedAt.IsZero() {
		c.CommittedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO grade_commits (course_id, exam_id, student_id, student_name, total, max_score, percentage, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CourseID, c.ExamID, c.StudentID, c.StudentName, c.Total, c.MaxScore, c.Percentage, c.CommittedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListCommits returns the ledger entries of an exam, oldest first.
func (s *Store) ListCommits(ctx context.Context, examID int64) ([]model.GradeCommit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, course_id, exam_id, student_id, student_name, total, max_score, percentage, committed_at
		 FROM grade_commits WHERE exam_id = ? ORDER BY id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.GradeCommit
	for rows.Next() {
		var c model.GradeCommit
		if err := rows.Scan(&c.ID, &c.CourseID, &c.ExamID, &c.StudentID, &c.StudentName,
			&c.Total, &c.MaxScore, &c.Percentage, &c.CommittedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
