package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rosterJSON = `{
  "exams": [{"name": "Simulacro 2", "academic_year": 2025, "date": "2025-08-20"}],
  "students": [
    {"first_name": "Luis", "last_name": "Gómez", "document_id": "D-2", "zipgrade_id": "2002", "academic_year": 2025, "grade": 11, "group": "B"},
    {"first_name": "Eva", "last_name": "Mora", "document_id": "D-3", "zipgrade_id": "3003"}
  ]
}`

func TestImportRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.ImportRoster(ctx, "roster.json", []byte(rosterJSON))
	require.NoError(t, err)
	assert.Equal(t, &RosterResult{Exams: 1, Students: 2, Enrollments: 1}, res)

	exams, err := f.store.ListExams(ctx)
	require.NoError(t, err)
	assert.Len(t, exams, 2)

	matches, err := f.store.ActiveEnrollmentsByZipgradeID(ctx, 2025)
	require.NoError(t, err)
	assert.Contains(t, matches, "2002")
	assert.NotContains(t, matches, "3003")

	again, err := f.svc.ImportRoster(ctx, "roster.json", []byte(rosterJSON))
	require.NoError(t, err)
	assert.True(t, again.Unchanged)

	// A changed file under the same name is loaded again.
	changed := `{"students": [{"document_id": "D-3", "zipgrade_id": "3003", "academic_year": 2025, "status": "inactive"}]}`
	res, err = f.svc.ImportRoster(ctx, "roster.json", []byte(changed))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enrollments)

	student, err := f.store.GetStudentByZipgradeID(ctx, "3003")
	require.NoError(t, err)
	require.NotNil(t, student)
	assert.Equal(t, "D-3", student.DocumentID)

	matches, err = f.store.ActiveEnrollmentsByZipgradeID(ctx, 2025)
	require.NoError(t, err)
	assert.NotContains(t, matches, "3003")
}

func TestImportRosterInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"exams": [`},
		{"missing document id", `{"students": [{"first_name": "Ana"}]}`},
		{"bad date", `{"exams": [{"name": "X", "academic_year": 2025, "date": "20/08/2025"}]}`},
		{"bad status", `{"students": [{"document_id": "D-9", "academic_year": 2025, "status": "graduated"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ImportRoster(ctx, tt.name+".json", []byte(tt.data))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}

	exams, err := f.store.ListExams(ctx)
	require.NoError(t, err)
	assert.Len(t, exams, 1)
}
