package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/gradebook/internal/i18n"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/staging"
	"github.com/pavelanni/gradebook/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

const (
	twoQuestionBlueprint = "Question Number,Primary Answer,Tag 1,Tag 2\n" +
		"1,A,Ciencias Sociales,Ciudadanía\n" +
		"2,B,Matemáticas,Formulación\n"

	responsesHeader = "Quiz Name,First Name,Last Name,ZipGrade ID,Stu1,PriKey1,Mark1,Stu2,PriKey2,Mark2\n"
)

func responses(rows ...string) string {
	return responsesHeader + strings.Join(rows, "\n") + "\n"
}

type fixture struct {
	svc          *Service
	store        *store.Store
	examID       int64
	enrollmentID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	examID, err := st.UpsertExam(ctx, model.Exam{Name: "Simulacro", AcademicYear: 2025, ExamDate: time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	studentID, err := st.UpsertStudent(ctx, model.Student{FirstName: "Ana", LastName: "Ruiz", DocumentID: "D-1", ZipgradeID: "1001"})
	require.NoError(t, err)
	enrollmentID, err := st.UpsertEnrollment(ctx, model.Enrollment{StudentID: studentID, AcademicYear: 2025, Grade: 11, Group: "A"})
	require.NoError(t, err)

	return &fixture{
		svc:          New(st, staging.NewMemory(), model.Config{}),
		store:        st,
		examID:       examID,
		enrollmentID: enrollmentID,
	}
}

func (f *fixture) analyze(t *testing.T, session int, blueprint, resp string) *Preview {
	t.Helper()
	p, err := f.svc.Analyze(context.Background(), AnalyzeRequest{
		ExamID:        f.examID,
		SessionNumber: session,
		Blueprint:     FileInput{Name: "blueprint.csv", Reader: strings.NewReader(blueprint)},
		Responses:     FileInput{Name: "responses.csv", Reader: strings.NewReader(resp)},
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) importToken(t *testing.T, session int, token string, overrides ...Override) *ImportResult {
	t.Helper()
	res, err := f.svc.Import(context.Background(), ImportRequest{
		ExamID:        f.examID,
		SessionNumber: session,
		Token:         token,
		Overrides:     overrides,
	})
	require.NoError(t, err)
	return res
}

func suggestionFor(t *testing.T, p *Preview, tag string) model.Classification {
	t.Helper()
	for _, sg := range p.Summary.TagSuggestions {
		if sg.Tag == tag {
			return sg.Classification()
		}
	}
	t.Fatalf("no suggestion for tag %q", tag)
	return model.Classification{}
}

func warningCodes(p *Preview) []string {
	var codes []string
	for _, w := range p.Summary.Warnings {
		codes = append(codes, w.Code)
	}
	return codes
}

func TestEndToEndImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.analyze(t, 1, twoQuestionBlueprint, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))
	sum := p.Summary
	assert.NotEmpty(t, p.Token)
	assert.Equal(t, 2, sum.QuestionCountBlueprint)
	assert.Equal(t, 2, sum.QuestionCountResponses)
	assert.Equal(t, 1, sum.StudentsMatched)
	assert.Equal(t, 0, sum.StudentsUnmatched)
	assert.Equal(t, map[model.Area]int{model.AreaSociales: 1, model.AreaMatematicas: 1}, sum.AreaQuestionCounts)
	assert.Empty(t, sum.UnassignedQuestions)
	assert.ElementsMatch(t, []string{"Ciencias Sociales", "Ciudadanía", "Matemáticas", "Formulación"}, sum.NewTags)
	assert.Contains(t, warningCodes(p), WarnNewTags)
	assert.Len(t, sum.ClassificationCatalog, 5)

	// Analysis writes nothing.
	sess, err := f.store.GetSession(ctx, f.examID, 1)
	require.NoError(t, err)
	assert.Nil(t, sess)

	res := f.importToken(t, 1, p.Token)
	assert.Equal(t, 2, res.QuestionsImported)
	assert.Equal(t, 2, res.AnswersImported)
	assert.Equal(t, 1, res.StudentsMatched)
	assert.Equal(t, 4, res.TagsLinked)
	assert.Equal(t, 0, res.TagsSkipped)

	sess, err = f.store.GetSession(ctx, f.examID, 1)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 2, sess.TotalQuestions)
	assert.Equal(t, "Simulacro S1", sess.ZipgradeQuizName)

	answers, err := f.store.ListAnswers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	for _, a := range answers {
		assert.True(t, a.IsCorrect)
		assert.Equal(t, f.enrollmentID, a.EnrollmentID)
	}

	area, err := f.store.GetTag(ctx, "Ciencias Sociales")
	require.NoError(t, err)
	require.NotNil(t, area)
	assert.Equal(t, model.TagTypeArea, area.TagType)
	assert.Nil(t, area.ParentArea)

	comp, err := f.store.GetTag(ctx, "Ciudadanía")
	require.NoError(t, err)
	require.NotNil(t, comp)
	assert.Equal(t, model.TagTypeCompetencia, comp.TagType)
	require.NotNil(t, comp.ParentArea)
	assert.Equal(t, "Ciencias Sociales", *comp.ParentArea)

	export, err := f.store.ExportSession(ctx, f.examID, 1)
	require.NoError(t, err)
	require.Len(t, export.Questions, 2)
	assert.Equal(t, model.AreaSociales, export.Questions[0].Area)
	assert.Equal(t, model.AreaMatematicas, export.Questions[1].Area)
	require.Len(t, export.Results, 1)
	assert.Equal(t, 2, export.Results[0].Correct)

	imports, err := f.store.ListImports(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, model.ImportCompleted, imports[0].Status)
	assert.Equal(t, res.ImportID, imports[0].ID)

	// A token is consumed by a successful import.
	_, err = f.svc.Import(ctx, ImportRequest{ExamID: f.examID, SessionNumber: 1, Token: p.Token})
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestImportIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.analyze(t, 1, twoQuestionBlueprint, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,C,B,X"))
	f.importToken(t, 1, first.Token)

	second := f.analyze(t, 1, twoQuestionBlueprint, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))
	assert.Empty(t, second.Summary.NewTags)
	assert.NotContains(t, warningCodes(second), WarnQuizNameChanged)
	res := f.importToken(t, 1, second.Token)
	assert.Equal(t, 2, res.QuestionsImported)
	assert.Equal(t, 2, res.AnswersImported)

	sess, err := f.store.GetSession(ctx, f.examID, 1)
	require.NoError(t, err)
	require.NotNil(t, sess)

	n, err := f.store.CountQuestions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	links, err := f.store.CountQuestionTags(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, links)
	tags, err := f.store.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 4)

	questions, err := f.store.ListQuestions(ctx, sess.ID)
	require.NoError(t, err)
	numbers := make(map[int64]int)
	for _, q := range questions {
		numbers[q.ID] = q.QuestionNumber
	}
	answers, err := f.store.ListAnswers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	for _, a := range answers {
		assert.True(t, a.IsCorrect, "question %d", numbers[a.ExamQuestionID])
	}

	renamed := f.analyze(t, 1, twoQuestionBlueprint, responses("Simulacro S2,Ana,Ruiz,1001,A,A,C,B,B,C"))
	assert.Contains(t, warningCodes(renamed), WarnQuizNameChanged)
}

func TestAnalyzeHintOverridesNormalization(t *testing.T) {
	f := newFixture(t)
	lectura := "Lectura Crítica"
	require.NoError(t, f.store.UpsertNormalization(context.Background(), model.TagNormalization{
		TagCSVName:    "COMUNICATIVA",
		TagSystemName: "COMUNICATIVA",
		TagType:       model.TagTypeCompetencia,
		ParentArea:    &lectura,
		IsActive:      true,
	}))

	bp := "Question Number,Primary Answer,Tag 1,Tag 2,Tag 3\n1,A,Ingles,PARTE 3,COMUNICATIVA\n"
	p := f.analyze(t, 1, bp, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,,,"))

	c := suggestionFor(t, p, "COMUNICATIVA")
	assert.Equal(t, model.AreaIngles, c.Area)
	assert.Equal(t, model.TagTypeCompetencia, c.Type)
	assert.Equal(t, model.SourceBlueprintHint, c.Source)

	parte := suggestionFor(t, p, "PARTE 3")
	assert.Equal(t, model.AreaIngles, parte.Area)
	assert.Equal(t, model.TagTypeParte, parte.Type)

	assert.Equal(t, map[model.Area]int{model.AreaIngles: 1}, p.Summary.AreaQuestionCounts)
	assert.NotContains(t, p.Summary.NewTags, "COMUNICATIVA")
}

func TestAnalyzeNoAreaWithoutMarker(t *testing.T) {
	f := newFixture(t)
	bp := "Question Number,Primary Answer,Tag 1,Tag 2\n" +
		"1,A,COMPRENSION DE TEXTO LITERAL,PARTE 5\n" +
		"2,B,Lectura Crítica,LITERAL\n"
	p := f.analyze(t, 1, bp, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))

	assert.Equal(t, 1, p.Summary.AreaQuestionCounts[model.AreaLectura])
	assert.Zero(t, p.Summary.AreaQuestionCounts[model.AreaIngles])
	assert.Equal(t, []int{1}, p.Summary.UnassignedQuestions)
	assert.Contains(t, warningCodes(p), WarnUnassignedQuestions)

	// Dimension tags are still classified on their own.
	lit := suggestionFor(t, p, "COMPRENSION DE TEXTO LITERAL")
	assert.Equal(t, model.AreaLectura, lit.Area)
	assert.Equal(t, model.TagTypeNivelLectura, lit.Type)
}

func TestImportUnmarkedQuestionHasNoArea(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bp := "Question Number,Primary Answer,Tag 1,Tag 2\n" +
		"1,A,COMPRENSION DE TEXTO LITERAL,PARTE 5\n" +
		"2,B,Lectura Crítica,LITERAL\n"
	p := f.analyze(t, 1, bp, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))
	res := f.importToken(t, 1, p.Token)
	assert.Equal(t, 4, res.TagsLinked)

	sess, err := f.store.GetSession(ctx, f.examID, 1)
	require.NoError(t, err)
	require.NotNil(t, sess)
	questions, err := f.store.ListQuestions(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	links, err := f.store.ListQuestionTags(ctx, sess.ID)
	require.NoError(t, err)

	unmarked := links[questions[0].ID]
	require.Len(t, unmarked, 2)
	for _, l := range unmarked {
		assert.Nil(t, l.InferredArea, "tag %q of question 1", l.TagName)
	}

	marked := links[questions[1].ID]
	require.Len(t, marked, 2)
	for _, l := range marked {
		require.NotNil(t, l.InferredArea, "tag %q of question 2", l.TagName)
		assert.Equal(t, model.AreaLectura, *l.InferredArea)
	}
}

func TestAnalyzeWarnings(t *testing.T) {
	f := newFixture(t)
	bp := "Question Number,Primary Answer,Tag 1\n" +
		"1,A,Matemáticas\n" +
		"1,B,Matemáticas\n" +
		"3,C,Matemáticas\n" +
		"4,D,Razonamiento\n"
	resp := responses(
		"Simulacro S1,Ana,Ruiz,1001,B,B,C,A,B,X",
		"Simulacro S1,Luis,Gómez,9999,A,B,X,A,B,X",
	)
	p := f.analyze(t, 1, bp, resp)
	sum := p.Summary

	assert.Equal(t, 3, sum.QuestionCountBlueprint)
	assert.Equal(t, 1, sum.StudentsMatched)
	assert.Equal(t, 1, sum.StudentsUnmatched)
	assert.Equal(t, []string{"9999"}, sum.UnmatchedStudentIDs)
	assert.Equal(t, []int{2}, sum.MissingQuestionsInBlueprint)
	assert.Equal(t, []int{3, 4}, sum.MissingQuestionsInResponses)

	codes := warningCodes(p)
	for _, want := range []string{
		WarnConflictingAnswerKey,
		WarnUnmatchedStudents,
		WarnMissingInBlueprint,
		WarnMissingInResponses,
		WarnUnclassifiedTags,
		WarnUnassignedQuestions,
	} {
		assert.Contains(t, codes, want)
	}
	for _, w := range sum.Warnings {
		switch w.Code {
		case WarnConflictingAnswerKey:
			assert.Equal(t, "Question 1 is listed with answer keys A and B; the last one is used.", w.Message)
		case WarnMissingInResponses:
			assert.Contains(t, w.Message, "3, 4")
		case WarnUnmatchedStudents:
			assert.True(t, strings.HasPrefix(w.Message, "1 student "), w.Message)
		}
	}
}

func TestAnalyzeIgnoresFooterRows(t *testing.T) {
	f := newFixture(t)
	bp := "Question Number,Primary Answer,Tag 1\n" +
		"1,A,Matemáticas\n" +
		"2,B,Matemáticas\n" +
		"Total,,\n"
	p := f.analyze(t, 1, bp, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))
	assert.Equal(t, 2, p.Summary.QuestionCountBlueprint)

	var found bool
	for _, w := range p.Summary.Warnings {
		if w.Code == WarnInvalidQuestionRows {
			found = true
			assert.Equal(t, "Blueprint rows without a valid question number were ignored: 4.", w.Message)
		}
	}
	assert.True(t, found, "warnings: %v", warningCodes(p))

	res := f.importToken(t, 1, p.Token)
	assert.Equal(t, 2, res.QuestionsImported)
}

func TestAnalyzeErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C")

	tests := []struct {
		name  string
		req   AnalyzeRequest
		check func(t *testing.T, err error)
	}{
		{
			name: "missing exam",
			req: AnalyzeRequest{
				ExamID: 999, SessionNumber: 1,
				Blueprint: FileInput{Name: "b.csv", Reader: strings.NewReader(twoQuestionBlueprint)},
				Responses: FileInput{Name: "r.csv", Reader: strings.NewReader(resp)},
			},
			check: func(t *testing.T, err error) {
				var nf *NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, "exam", nf.Resource)
			},
		},
		{
			name: "bad session number",
			req: AnalyzeRequest{
				ExamID: f.examID, SessionNumber: 0,
				Blueprint: FileInput{Name: "b.csv", Reader: strings.NewReader(twoQuestionBlueprint)},
				Responses: FileInput{Name: "r.csv", Reader: strings.NewReader(resp)},
			},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
			},
		},
		{
			name: "unparseable blueprint",
			req: AnalyzeRequest{
				ExamID: f.examID, SessionNumber: 1,
				Blueprint: FileInput{Name: "b.csv", Reader: strings.NewReader("Foo,Bar\n1,2\n")},
				Responses: FileInput{Name: "r.csv", Reader: strings.NewReader(resp)},
			},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Problems, "missing question number column")
			},
		},
		{
			name: "missing responses file",
			req: AnalyzeRequest{
				ExamID: f.examID, SessionNumber: 1,
				Blueprint: FileInput{Name: "b.csv", Reader: strings.NewReader(twoQuestionBlueprint)},
			},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Analyze(ctx, tt.req)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestManualClassificationRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bp := "Question Number,Primary Answer,Tag 1\n1,A,Formulacion\n"
	resp := responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,,,")

	p := f.analyze(t, 1, bp, resp)
	c := suggestionFor(t, p, "Formulacion")
	assert.Equal(t, model.AreaUnclassified, c.Area)
	assert.Contains(t, warningCodes(p), WarnUnclassifiedTags)

	res, err := f.svc.Import(ctx, ImportRequest{
		ExamID:             f.examID,
		SessionNumber:      1,
		Token:              p.Token,
		Overrides:          []Override{{Tag: "Formulacion", Area: model.AreaMatematicas, Type: model.TagTypeCompetencia}},
		SaveNormalizations: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TagsLinked)
	assert.Equal(t, 0, res.TagsSkipped)

	tag, err := f.store.GetTag(ctx, "Formulacion")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, model.TagTypeCompetencia, tag.TagType)
	require.NotNil(t, tag.ParentArea)
	assert.Equal(t, "Matemáticas", *tag.ParentArea)

	norm, err := f.store.GetNormalization(ctx, "Formulacion")
	require.NoError(t, err)
	require.NotNil(t, norm)
	assert.Equal(t, "Formulacion", norm.TagSystemName)
	assert.Equal(t, model.TagTypeCompetencia, norm.TagType)
	require.NotNil(t, norm.ParentArea)
	assert.Equal(t, "Matemáticas", *norm.ParentArea)
	assert.True(t, norm.IsActive)

	// The saved rule classifies the tag next time.
	again := f.analyze(t, 1, bp, resp)
	c = suggestionFor(t, again, "Formulacion")
	assert.Equal(t, model.AreaMatematicas, c.Area)
	assert.Equal(t, model.TagTypeCompetencia, c.Type)
	assert.Equal(t, model.SourceNormalization, c.Source)
	assert.Empty(t, again.Summary.NewTags)
}

func TestImportUnclassifiedTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bp := "Question Number,Primary Answer,Tag 1,Tag 2\n1,A,Matemáticas,Misterio\n"

	p := f.analyze(t, 1, bp, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,,,"))
	res := f.importToken(t, 1, p.Token)
	assert.Equal(t, 0, res.TagsSkipped)
	assert.Equal(t, 2, res.TagsLinked)

	// Inside a marked question an unknown tag takes the question's area.
	tag, err := f.store.GetTag(ctx, "Misterio")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, "Matemáticas", *tag.ParentArea)

	bp = "Question Number,Primary Answer,Tag 1\n1,A,Misterio\n2,B,Enigma\n"
	p = f.analyze(t, 2, bp, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))
	res = f.importToken(t, 2, p.Token)
	assert.Equal(t, 1, res.TagsLinked)
	assert.Equal(t, 1, res.TagsSkipped)

	enigma, err := f.store.GetTag(ctx, "Enigma")
	require.NoError(t, err)
	assert.Nil(t, enigma)
}

func TestImportRejectsInvalidOverrides(t *testing.T) {
	f := newFixture(t)
	p := f.analyze(t, 1, twoQuestionBlueprint, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))

	_, err := f.svc.Import(context.Background(), ImportRequest{
		ExamID:        f.examID,
		SessionNumber: 1,
		Token:         p.Token,
		Overrides: []Override{
			{Tag: "Inexistente", Area: model.AreaMatematicas, Type: model.TagTypeCompetencia},
			{Tag: "Ciudadanía", Area: "historia", Type: model.TagTypeCompetencia},
			{Tag: "Formulación", Area: model.AreaIngles, Type: model.TagTypeComponente},
		},
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 3)

	_, err = f.svc.Import(context.Background(), ImportRequest{
		ExamID:        f.examID,
		SessionNumber: 1,
		Token:         p.Token,
		Overrides:     []Override{{Tag: "Ciudadanía"}},
	})
	require.ErrorAs(t, err, &ve)

	// Nothing was written and the token is still usable.
	sess, err := f.store.GetSession(context.Background(), f.examID, 1)
	require.NoError(t, err)
	assert.Nil(t, sess)
	f.importToken(t, 1, p.Token)
}

func TestImportTokenErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C")

	t.Run("not found", func(t *testing.T) {
		_, err := f.svc.Import(ctx, ImportRequest{ExamID: f.examID, SessionNumber: 1, Token: "no-such-token"})
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("mismatch", func(t *testing.T) {
		p := f.analyze(t, 1, twoQuestionBlueprint, resp)
		_, err := f.svc.Import(ctx, ImportRequest{ExamID: f.examID, SessionNumber: 2, Token: p.Token})
		assert.ErrorIs(t, err, ErrTokenMismatch)

		other, err := f.store.UpsertExam(ctx, model.Exam{Name: "Otro", AcademicYear: 2025})
		require.NoError(t, err)
		_, err = f.svc.Import(ctx, ImportRequest{ExamID: other, SessionNumber: 1, Token: p.Token})
		assert.ErrorIs(t, err, ErrTokenMismatch)

		sess, err := f.store.GetSession(ctx, f.examID, 2)
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("expired", func(t *testing.T) {
		clock := time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)
		f.svc.now = func() time.Time { return clock }
		t.Cleanup(func() { f.svc.now = time.Now })

		p := f.analyze(t, 3, twoQuestionBlueprint, resp)
		assert.Equal(t, clock.Add(DefaultPreviewTTL), p.ExpiresAt)

		clock = clock.Add(DefaultPreviewTTL + time.Minute)
		_, err := f.svc.Import(ctx, ImportRequest{ExamID: f.examID, SessionNumber: 3, Token: p.Token})
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestImportRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.analyze(t, 1, twoQuestionBlueprint, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))

	f.svc.beforeCommit = func(q *store.Queries) error { return errors.New("disk full") }
	_, err := f.svc.Import(ctx, ImportRequest{ExamID: f.examID, SessionNumber: 1, Token: p.Token, SaveNormalizations: true})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.NotZero(t, pe.ImportID)

	sess, err := f.store.GetSession(ctx, f.examID, 1)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 0, sess.TotalQuestions)

	n, err := f.store.CountQuestions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	answers, err := f.store.CountAnswers(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, answers)
	tags, err := f.store.ListTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)
	norms, err := f.store.ListNormalizations(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, norms)

	imports, err := f.store.ListImports(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, model.ImportError, imports[0].Status)
	assert.Contains(t, imports[0].ErrorMessage, "disk full")

	// The token survives a failed attempt.
	f.svc.beforeCommit = nil
	res := f.importToken(t, 1, p.Token)
	assert.Equal(t, 2, res.QuestionsImported)

	imports, err = f.store.ListImports(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, imports, 2)
	assert.Equal(t, model.ImportCompleted, imports[0].Status)
}

type fakeAssistant struct {
	calls []string
}

func (a *fakeAssistant) SuggestTag(_ context.Context, tag string, _ []string) (model.Area, model.TagType, error) {
	a.calls = append(a.calls, tag)
	if tag == "Razonamiento" {
		return model.AreaMatematicas, model.TagTypeCompetencia, nil
	}
	return "", "", errors.New("no idea")
}

func TestAnalyzeWithAssistant(t *testing.T) {
	f := newFixture(t)
	a := &fakeAssistant{}
	f.svc = New(f.store, staging.NewMemory(), model.Config{}, WithAssistant(a))

	bp := "Question Number,Primary Answer,Tag 1\n1,A,Razonamiento\n2,B,Misterio\n3,C,Matemáticas\n"
	p := f.analyze(t, 1, bp, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))

	c := suggestionFor(t, p, "Razonamiento")
	assert.Equal(t, model.AreaMatematicas, c.Area)
	assert.Equal(t, model.SourceAssistant, c.Source)

	c = suggestionFor(t, p, "Misterio")
	assert.Equal(t, model.AreaUnclassified, c.Area)
	assert.Equal(t, model.SourceDefault, c.Source)

	// Area markers never reach the assistant.
	assert.ElementsMatch(t, []string{"Razonamiento", "Misterio"}, a.calls)
}

func TestImportStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ImportStats(ctx, StatsRequest{
		ExamID: f.examID, SessionNumber: 1,
		File: FileInput{Name: "stats.csv", Reader: strings.NewReader("Question Number,Primary Answer\n1,A\n")},
	})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "session", nf.Resource)

	p := f.analyze(t, 1, twoQuestionBlueprint, responses("Simulacro S1,Ana,Ruiz,1001,A,A,C,B,B,C"))
	f.importToken(t, 1, p.Token)

	stats := "Question Number,Primary Answer,Response 1,Response 1 %,Response 2,Response 2 %\n" +
		"1,D,D,80%,A,20%\n" +
		"9,C,C,50,,\n"
	res, err := f.svc.ImportStats(ctx, StatsRequest{
		ExamID: f.examID, SessionNumber: 1,
		File: FileInput{Name: "stats.csv", Reader: strings.NewReader(stats)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.QuestionsUpdated)
	assert.Equal(t, []int{9}, res.QuestionsSkipped)

	sess, err := f.store.GetSession(ctx, f.examID, 1)
	require.NoError(t, err)
	questions, err := f.store.ListQuestions(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	q1 := questions[0]
	assert.Equal(t, "D", q1.CorrectAnswer)
	assert.Equal(t, "D", q1.Responses[0].Response)
	require.NotNil(t, q1.Responses[0].Pct)
	assert.InDelta(t, 80.0, *q1.Responses[0].Pct, 0.001)
	assert.Equal(t, "A", q1.Responses[1].Response)
	assert.Equal(t, "B", questions[1].CorrectAnswer)

	imports, err := f.store.ListImports(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, imports, 2)
	assert.Equal(t, "stats.csv", imports[0].Filename)
	assert.Equal(t, model.ImportCompleted, imports[0].Status)
}
