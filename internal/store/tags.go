package store

import (
	"context"
	"database/sql"

	"github.com/pavelanni/gradebook/internal/model"
)

// UpsertTag returns the ID of the hierarchy row named t.TagName, creating it
// when missing. An existing row keeps its type and parent area unless
// overwrite is set.
func (q *Queries) UpsertTag(ctx context.Context, t model.TagHierarchy, overwrite bool) (int64, error) {
	query := `INSERT INTO tag_hierarchy (tag_name, tag_type, parent_area) VALUES (?, ?, ?)
		 ON CONFLICT(tag_name) DO UPDATE SET tag_name = excluded.tag_name
		 RETURNING id`
	if overwrite {
		query = `INSERT INTO tag_hierarchy (tag_name, tag_type, parent_area) VALUES (?, ?, ?)
		 ON CONFLICT(tag_name) DO UPDATE SET tag_type = excluded.tag_type, parent_area = excluded.parent_area
		 RETURNING id`
	}
	var id int64
	err := q.db.QueryRowContext(ctx, query, t.TagName, t.TagType, nullString(t.ParentArea)).Scan(&id)
	return id, err
}

// GetTag returns the hierarchy row with the given name, or nil.
func (q *Queries) GetTag(ctx context.Context, name string) (*model.TagHierarchy, error) {
	var t model.TagHierarchy
	var parent sql.NullString
	err := q.db.QueryRowContext(ctx,
		`SELECT id, tag_name, tag_type, parent_area FROM tag_hierarchy WHERE tag_name = ?`, name,
	).Scan(&t.ID, &t.TagName, &t.TagType, &parent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.ParentArea = stringPtr(parent)
	return &t, nil
}

// ListTags returns the whole tag hierarchy ordered by name.
func (q *Queries) ListTags(ctx context.Context) ([]model.TagHierarchy, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, tag_name, tag_type, parent_area FROM tag_hierarchy ORDER BY tag_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []model.TagHierarchy
	for rows.Next() {
		var t model.TagHierarchy
		var parent sql.NullString
		if err := rows.Scan(&t.ID, &t.TagName, &t.TagType, &parent); err != nil {
			return nil, err
		}
		t.ParentArea = stringPtr(parent)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// UpsertNormalization stores a mapping keyed by its CSV tag name.
func (q *Queries) UpsertNormalization(ctx context.Context, n model.TagNormalization) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO tag_normalizations (tag_csv_name, tag_system_name, tag_type, parent_area, is_active)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tag_csv_name) DO UPDATE SET
			tag_system_name = excluded.tag_system_name,
			tag_type = excluded.tag_type,
			parent_area = excluded.parent_area,
			is_active = excluded.is_active`,
		n.TagCSVName, n.TagSystemName, n.TagType, nullString(n.ParentArea), n.IsActive,
	)
	return err
}

// GetNormalization returns the mapping for a CSV tag name, or nil.
func (q *Queries) GetNormalization(ctx context.Context, csvName string) (*model.TagNormalization, error) {
	var n model.TagNormalization
	var parent sql.NullString
	err := q.db.QueryRowContext(ctx,
		`SELECT id, tag_csv_name, tag_system_name, tag_type, parent_area, is_active
		 FROM tag_normalizations WHERE tag_csv_name = ?`, csvName,
	).Scan(&n.ID, &n.TagCSVName, &n.TagSystemName, &n.TagType, &parent, &n.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n.ParentArea = stringPtr(parent)
	return &n, nil
}

// ListNormalizations returns saved mappings ordered by CSV name.
func (q *Queries) ListNormalizations(ctx context.Context, activeOnly bool) ([]model.TagNormalization, error) {
	query := `SELECT id, tag_csv_name, tag_system_name, tag_type, parent_area, is_active FROM tag_normalizations`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY tag_csv_name`
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TagNormalization
	for rows.Next() {
		var n model.TagNormalization
		var parent sql.NullString
		if err := rows.Scan(&n.ID, &n.TagCSVName, &n.TagSystemName, &n.TagType, &parent, &n.IsActive); err != nil {
			return nil, err
		}
		n.ParentArea = stringPtr(parent)
		out = append(out, n)
	}
	return out, rows.Err()
}

// SetQuestionTags makes links the exact tag set of a question: links to
// other tags are removed, the rest are inserted or have their area refreshed.
func (q *Queries) SetQuestionTags(ctx context.Context, questionID int64, links []model.QuestionTag) error {
	keep := make([]any, 0, len(links)+1)
	keep = append(keep, questionID)
	for _, l := range links {
		keep = append(keep, l.TagHierarchyID)
	}
	del := `DELETE FROM question_tags WHERE exam_question_id = ?`
	if len(links) > 0 {
		del += ` AND tag_hierarchy_id NOT IN (` + placeholders(len(links)) + `)`
	}
	if _, err := q.db.ExecContext(ctx, del, keep...); err != nil {
		return err
	}

	for _, l := range links {
		var area sql.NullString
		if l.InferredArea != nil && *l.InferredArea != "" {
			area = sql.NullString{String: string(*l.InferredArea), Valid: true}
		}
		_, err := q.db.ExecContext(ctx,
			`INSERT INTO question_tags (exam_question_id, tag_hierarchy_id, inferred_area) VALUES (?, ?, ?)
			 ON CONFLICT(exam_question_id, tag_hierarchy_id) DO UPDATE SET inferred_area = excluded.inferred_area`,
			questionID, l.TagHierarchyID, area,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListQuestionTags returns the tag links of every question in a session,
// keyed by question ID, with tag names filled in.
func (q *Queries) ListQuestionTags(ctx context.Context, sessionID int64) (map[int64][]model.QuestionTag, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT qt.id, qt.exam_question_id, qt.tag_hierarchy_id, qt.inferred_area, th.tag_name
		 FROM question_tags qt
		 JOIN exam_questions eq ON eq.id = qt.exam_question_id
		 JOIN tag_hierarchy th ON th.id = qt.tag_hierarchy_id
		 WHERE eq.exam_session_id = ?
		 ORDER BY eq.question_number, qt.id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]model.QuestionTag)
	for rows.Next() {
		var l model.QuestionTag
		var area sql.NullString
		if err := rows.Scan(&l.ID, &l.ExamQuestionID, &l.TagHierarchyID, &area, &l.TagName); err != nil {
			return nil, err
		}
		if area.Valid {
			a := model.Area(area.String)
			l.InferredArea = &a
		}
		out[l.ExamQuestionID] = append(out[l.ExamQuestionID], l)
	}
	return out, rows.Err()
}

// CountQuestionTags returns the number of tag links in a session.
func (q *Queries) CountQuestionTags(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM question_tags qt
		 JOIN exam_questions eq ON eq.id = qt.exam_question_id
		 WHERE eq.exam_session_id = ?`, sessionID,
	).Scan(&count)
	return count, err
}
