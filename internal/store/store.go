// Package store keeps a local SQLite snapshot of exams, submissions and
// grades pulled from the grading backend, plus the portal's own records:
// login sessions, instructor profiles, imported files and the grade commit
// ledger.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/gradedesk/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		course_id INTEGER NOT NULL DEFAULT 0,
		course_name TEXT NOT NULL DEFAULT '',
		rubric TEXT NOT NULL DEFAULT '',
		synced_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		exam_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		upstream_id INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		weight REAL NOT NULL,
		min_words INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (exam_id, key),
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS submissions (
		exam_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		student_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		is_submitted INTEGER NOT NULL DEFAULT 0,
		submitted_at DATETIME,
		is_graded INTEGER NOT NULL DEFAULT 0,
		overall_feedback TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (exam_id, student_id),
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS answers (
		exam_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		upstream_id INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		question_text TEXT NOT NULL DEFAULT '',
		question_weight REAL NOT NULL,
		answer_text TEXT NOT NULL DEFAULT '',
		received_weight REAL,
		feedback TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (exam_id, student_id, key),
		FOREIGN KEY (exam_id, student_id) REFERENCES submissions(exam_id, student_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS grade_commits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id INTEGER NOT NULL,
		exam_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		total REAL NOT NULL,
		max_score REAL NOT NULL,
		percentage REAL NOT NULL,
		committed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exam_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS professors (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		last_login DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		professor_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (professor_id) REFERENCES professors(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ImportSnapshot replaces everything stored for the exam with the given
// snapshot.
func (s *Store) ImportSnapshot(ctx context.Context, es *model.ExamSubmissions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	exam := es.Exam
	if err := deleteExam(ctx, tx, exam.ID); err != nil {
		return fmt.Errorf("clear exam %d: %w", exam.ID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO exams (id, name, course_id, course_name, rubric, synced_at) VALUES (?, ?, ?, ?, ?, ?)`,
		exam.ID, exam.Name, exam.CourseID, exam.CourseName, exam.Rubric, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert exam %d: %w", exam.ID, err)
	}
	for i, q := range exam.Questions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO questions (exam_id, key, upstream_id, position, text, weight, min_words)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			exam.ID, string(q.Key), q.ID, i, q.Text, q.Weight, q.MinWords,
		)
		if err != nil {
			return fmt.Errorf("insert question %s: %w", q.Key, err)
		}
	}
	for i, sub := range es.Submissions {
		if err := insertSubmission(ctx, tx, exam.ID, i, sub); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertSubmission(ctx context.Context, tx *sql.Tx, examID int64, pos int, sub model.StudentSubmission) error {
	sub.Normalize()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO submissions (exam_id, student_id, student_name, position, is_submitted, submitted_at, is_graded, overall_feedback)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		examID, sub.StudentID, sub.StudentName, pos, sub.IsSubmitted, sub.SubmittedAt, sub.IsGraded, sub.OverallFeedback,
	)
	if err != nil {
		return fmt.Errorf("insert submission of student %d: %w", sub.StudentID, err)
	}
	for i, a := range sub.Answers {
		var received sql.NullFloat64
		if a.ReceivedWeight != nil {
			received = sql.NullFloat64{Float64: *a.ReceivedWeight, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO answers (exam_id, student_id, key, upstream_id, position, question_text, question_weight, answer_text, received_weight, feedback)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			examID, sub.StudentID, string(a.Key), a.QuestionID, i, a.QuestionText, a.QuestionWeight, a.AnswerText, received, a.Feedback,
		)
		if err != nil {
			return fmt.Errorf("insert answer %s of student %d: %w", a.Key, sub.StudentID, err)
		}
	}
	return nil
}

// ListExams returns all stored exams with their questions, by id.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.name, e.course_id, e.course_name, e.rubric,
		        (SELECT COUNT(*) FROM submissions s WHERE s.exam_id = e.id)
		 FROM exams e ORDER BY e.id`)
	if err != nil {
		return nil, err
	}
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Name, &e.CourseID, &e.CourseName, &e.Rubric, &e.SubmissionCount); err != nil {
			rows.Close()
			return nil, err
		}
		exams = append(exams, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range exams {
		qs, err := s.questions(ctx, exams[i].ID)
		if err != nil {
			return nil, err
		}
		exams[i].Questions = qs
	}
	return exams, nil
}

// GetExam returns one exam with its questions.
func (s *Store) GetExam(ctx context.Context, examID int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, course_id, course_name, rubric,
		        (SELECT COUNT(*) FROM submissions WHERE exam_id = exams.id)
		 FROM exams WHERE id = ?`, examID,
	).Scan(&e.ID, &e.Name, &e.CourseID, &e.CourseName, &e.Rubric, &e.SubmissionCount)
	if err == sql.ErrNoRows {
		return e, &model.NotFoundError{Resource: "exam", ID: examID}
	}
	if err != nil {
		return e, err
	}
	e.Questions, err = s.questions(ctx, examID)
	return e, err
}

func (s *Store) questions(ctx context.Context, examID int64) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, upstream_id, text, weight, min_words FROM questions WHERE exam_id = ? ORDER BY position`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var qs []model.Question
	for rows.Next() {
		var q model.Question
		var key string
		if err := rows.Scan(&key, &q.ID, &q.Text, &q.Weight, &q.MinWords); err != nil {
			return nil, err
		}
		q.Key = model.QuestionKey(key)
		qs = append(qs, q)
	}
	return qs, rows.Err()
}

// GetSubmissions returns the stored snapshot of an exam.
func (s *Store) GetSubmissions(ctx context.Context, examID int64) (*model.ExamSubmissions, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	es := &model.ExamSubmissions{Exam: exam}

	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, student_name, is_submitted, submitted_at, is_graded, overall_feedback
		 FROM submissions WHERE exam_id = ? ORDER BY position`, examID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sub model.StudentSubmission
		var submittedAt sql.NullTime
		if err := rows.Scan(&sub.StudentID, &sub.StudentName, &sub.IsSubmitted, &submittedAt, &sub.IsGraded, &sub.OverallFeedback); err != nil {
			rows.Close()
			return nil, err
		}
		if submittedAt.Valid {
			t := submittedAt.Time
			sub.SubmittedAt = &t
		}
		es.Submissions = append(es.Submissions, sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range es.Submissions {
		answers, err := s.answers(ctx, examID, es.Submissions[i].StudentID)
		if err != nil {
			return nil, err
		}
		es.Submissions[i].Answers = answers
	}
	return es, nil
}

func (s *Store) answers(ctx context.Context, examID, studentID int64) ([]model.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, upstream_id, question_text, question_weight, answer_text, received_weight, feedback
		 FROM answers WHERE exam_id = ? AND student_id = ? ORDER BY position`, examID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Answer
	for rows.Next() {
		var a model.Answer
		var key string
		var received sql.NullFloat64
		if err := rows.Scan(&key, &a.QuestionID, &a.QuestionText, &a.QuestionWeight, &a.AnswerText, &received, &a.Feedback); err != nil {
			return nil, err
		}
		a.Key = model.QuestionKey(key)
		if received.Valid {
			a.ReceivedWeight = model.Float(received.Float64)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveGrades writes the scores of a save request into the stored snapshot.
// Every answer of the request must exist.
func (s *Store) SaveGrades(ctx context.Context, req model.GradeSubmission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE exam_id = ? AND student_id = ?`, req.ExamID, req.StudentID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return &model.NotFoundError{Resource: "student", ID: req.StudentID}
	}

	for _, a := range req.Answers {
		res, err := tx.ExecContext(ctx,
			`UPDATE answers SET received_weight = ?, feedback = ?
			 WHERE exam_id = ? AND student_id = ? AND key = ?`,
			a.Score, a.Feedback, req.ExamID, req.StudentID, string(a.Key),
		)
		if err != nil {
			return fmt.Errorf("update answer %s: %w", a.Key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update answer %s: %w", a.Key, model.ErrUnknownQuestion)
		}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE submissions SET overall_feedback = ?,
		        is_graded = NOT EXISTS (SELECT 1 FROM answers
		                                WHERE exam_id = ? AND student_id = ? AND received_weight IS NULL)
		 WHERE exam_id = ? AND student_id = ?`,
		req.OverallFeedback, req.ExamID, req.StudentID, req.ExamID, req.StudentID,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	return tx.Commit()
}

// DeleteExam removes an exam and everything stored for it.
func (s *Store) DeleteExam(ctx context.Context, examID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteExam(ctx, tx, examID); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteExam(ctx context.Context, tx *sql.Tx, examID int64) error {
	for _, table := range []string{"answers", "submissions", "questions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE exam_id = ?`, examID); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id = ?`, examID)
	return err
}
