package store

import (
	"context"
	"database/sql"

	"github.com/pavelanni/gradebook/internal/model"
)

// UpsertExam stores an exam keyed by (name, academic_year) and returns its ID.
func (q *Queries) UpsertExam(ctx context.Context, e model.Exam) (int64, error) {
	var date sql.NullTime
	if !e.ExamDate.IsZero() {
		date = sql.NullTime{Time: e.ExamDate, Valid: true}
	}
	var id int64
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO exams (name, academic_year, exam_date) VALUES (?, ?, ?)
		 ON CONFLICT(name, academic_year) DO UPDATE SET exam_date = excluded.exam_date
		 RETURNING id`,
		e.Name, e.AcademicYear, date,
	).Scan(&id)
	return id, err
}

// GetExam returns an exam by ID, or nil if it does not exist.
func (q *Queries) GetExam(ctx context.Context, id int64) (*model.Exam, error) {
	var e model.Exam
	var date sql.NullTime
	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, academic_year, exam_date FROM exams WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.AcademicYear, &date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if date.Valid {
		e.ExamDate = date.Time
	}
	return &e, nil
}

// ListExams returns all exams, newest year first.
func (q *Queries) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, academic_year, exam_date FROM exams ORDER BY academic_year DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		var date sql.NullTime
		if err := rows.Scan(&e.ID, &e.Name, &e.AcademicYear, &date); err != nil {
			return nil, err
		}
		if date.Valid {
			e.ExamDate = date.Time
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// UpsertStudent stores a student keyed by document ID and returns its ID.
// An empty zipgrade ID is stored as NULL so it never collides.
func (q *Queries) UpsertStudent(ctx context.Context, s model.Student) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO students (first_name, last_name, document_id, zipgrade_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			zipgrade_id = excluded.zipgrade_id
		 RETURNING id`,
		s.FirstName, s.LastName, s.DocumentID, nullString(&s.ZipgradeID),
	).Scan(&id)
	return id, err
}

// GetStudentByZipgradeID returns the student with the given vendor ID, or nil.
func (q *Queries) GetStudentByZipgradeID(ctx context.Context, zipgradeID string) (*model.Student, error) {
	var s model.Student
	var zg sql.NullString
	err := q.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, document_id, zipgrade_id FROM students WHERE zipgrade_id = ?`, zipgradeID,
	).Scan(&s.ID, &s.FirstName, &s.LastName, &s.DocumentID, &zg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.ZipgradeID = zg.String
	return &s, nil
}

// UpsertEnrollment stores an enrollment keyed by (student, academic year).
func (q *Queries) UpsertEnrollment(ctx context.Context, e model.Enrollment) (int64, error) {
	status := e.Status
	if status == "" {
		status = model.EnrollmentActive
	}
	var id int64
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO enrollments (student_id, academic_year, grade, group_name, status) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, academic_year) DO UPDATE SET
			grade = excluded.grade,
			group_name = excluded.group_name,
			status = excluded.status
		 RETURNING id`,
		e.StudentID, e.AcademicYear, e.Grade, e.Group, status,
	).Scan(&id)
	return id, err
}

// EnrollmentMatch is an active enrollment reachable by vendor student ID.
type EnrollmentMatch struct {
	EnrollmentID int64
	StudentID    int64
	DisplayName  string
}

// ActiveEnrollmentsByZipgradeID maps vendor student IDs to the student's
// latest active enrollment in academicYear.
func (q *Queries) ActiveEnrollmentsByZipgradeID(ctx context.Context, academicYear int) (map[string]EnrollmentMatch, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT s.zipgrade_id, e.id, s.id, s.first_name, s.last_name
		 FROM enrollments e
		 JOIN students s ON s.id = e.student_id
		 WHERE s.zipgrade_id IS NOT NULL AND e.academic_year = ? AND e.status = ?
		 ORDER BY e.id`,
		academicYear, model.EnrollmentActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]EnrollmentMatch)
	for rows.Next() {
		var zg, first, last string
		var m EnrollmentMatch
		if err := rows.Scan(&zg, &m.EnrollmentID, &m.StudentID, &first, &last); err != nil {
			return nil, err
		}
		m.DisplayName = displayName(first, last)
		out[zg] = m // later rows win
	}
	return out, rows.Err()
}

func displayName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}
