package services

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/models"
	"alfredoptarigan/cv-screening/internal/repositories"
)

// memoryIndex is an in-process QdrantService with cosine similarity search.
type memoryIndex struct {
	mu        sync.Mutex
	points    map[string]indexedPoint
	searchErr error
	scrollErr error
}

type indexedPoint struct {
	doc    ReferenceDocument
	vector []float32
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{points: make(map[string]indexedPoint)}
}

func (m *memoryIndex) InitCollection(ctx context.Context) error { return nil }

func (m *memoryIndex) ResetCollection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = make(map[string]indexedPoint)
	return nil
}

func (m *memoryIndex) Count(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.points)), nil
}

func (m *memoryIndex) UpsertReference(ctx context.Context, doc ReferenceDocument, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[ReferencePointID(doc.JobTitle, doc.Kind)] = indexedPoint{doc: doc, vector: embedding}
	return nil
}

func (m *memoryIndex) SearchNearest(ctx context.Context, queryEmbedding []float32, limit int) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}

	results := make([]SearchResult, 0, len(m.points))
	for id, point := range m.points {
		result := point.result(id)
		result.Score = cosine(queryEmbedding, point.vector)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *memoryIndex) FindByMetadata(ctx context.Context, match map[string]string, limit int) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scrollErr != nil {
		return nil, m.scrollErr
	}

	var results []SearchResult
	for id, point := range m.points {
		payload := map[string]string{
			payloadJobTitle:   point.doc.JobTitle,
			payloadDocKind:    string(point.doc.Kind),
			payloadSourcePath: point.doc.SourcePath,
		}
		matched := true
		for key, value := range match {
			if payload[key] != value {
				matched = false
				break
			}
		}
		if matched {
			results = append(results, point.result(id))
		}
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (p indexedPoint) result(id string) SearchResult {
	return SearchResult{
		ID:         id,
		JobTitle:   p.doc.JobTitle,
		DocKind:    p.doc.Kind,
		Text:       p.doc.Text,
		SourcePath: p.doc.SourcePath,
	}
}

// hashEmbedder embeds text as a normalized bag of hashed words.
type hashEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

const hashDimensions = 512

func (e *hashEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vector := make([]float32, hashDimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		h.Write([]byte(word))
		vector[h.Sum32()%hashDimensions]++
	}
	return vector, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// writeCorpus lays out title directories with the given files under a temp dir.
func writeCorpus(t *testing.T, corpus map[string]map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for title, files := range corpus {
		dir := filepath.Join(root, title)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for name, content := range files {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
				t.Fatalf("write %s: %v", name, err)
			}
		}
	}
	return root
}

const (
	backendJD     = "Backend engineer job description. Build backend APIs in Go with PostgreSQL, queues and cloud infrastructure. Backend services at scale."
	backendBrief  = "Backend case study brief. Build a backend evaluation service with asynchronous jobs, retries and retrieval."
	backendRubric = "Backend scoring rubric. Score backend correctness, code quality, resilience, documentation and creativity from 1 to 5."

	frontendJD     = "Frontend engineer job description. Build frontend interfaces in React and TypeScript with accessible design systems."
	frontendBrief  = "Frontend case study brief. Build a frontend dashboard with responsive layout and component tests."
	frontendRubric = "Frontend scoring rubric. Score frontend usability, visual polish, accessibility and testing from 1 to 5."
)

func standardCorpus() map[string]map[string]string {
	return map[string]map[string]string{
		"Backend Engineer": {
			"job_description.txt":  backendJD,
			"case_study_brief.txt": backendBrief,
			"scoring_rubric.md":    backendRubric,
		},
		"Frontend Engineer": {
			"jd.txt":             frontendJD,
			"brief.txt":          frontendBrief,
			"rubric_scoring.txt": frontendRubric,
		},
	}
}

// newSeededStore returns a reference store ingested from corpus.
func newSeededStore(t *testing.T, corpus map[string]map[string]string) (ReferenceStore, *memoryIndex, *hashEmbedder) {
	t.Helper()
	index := newMemoryIndex()
	embedder := &hashEmbedder{}
	store := NewReferenceStore(index, embedder, NewTextExtractor(), zap.NewNop())

	if _, err := store.Ingest(context.Background(), writeCorpus(t, corpus), false); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return store, index, embedder
}

type gatewayReply struct {
	text string
	err  error
}

// scriptedGateway replays canned responses per request kind. The last reply for a
// kind repeats once the script is exhausted.
type scriptedGateway struct {
	mu      sync.Mutex
	replies map[RequestKind][]gatewayReply
	calls   []RequestKind
	prompts map[RequestKind][]string
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		replies: map[RequestKind][]gatewayReply{
			RequestParseCV:           {{text: validParsedCV}},
			RequestEvaluateCV:        {{text: validCVEvaluation}},
			RequestParseProject:      {{text: validParsedProject}},
			RequestEvaluateProject:   {{text: validProjectEvaluation}},
			RequestSynthesizeSummary: {{text: validSummary}},
		},
		prompts: make(map[RequestKind][]string),
	}
}

func (g *scriptedGateway) script(kind RequestKind, replies ...gatewayReply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[kind] = replies
}

func (g *scriptedGateway) next(req ModelRequest) gatewayReply {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, req.Kind)
	g.prompts[req.Kind] = append(g.prompts[req.Kind], req.Prompt)

	replies := g.replies[req.Kind]
	if len(replies) == 0 {
		return gatewayReply{err: newErrorf(KindProviderRejected, "unexpected %s request", req.Kind)}
	}
	reply := replies[0]
	if len(replies) > 1 {
		g.replies[req.Kind] = replies[1:]
	}
	return reply
}

func (g *scriptedGateway) GenerateStructured(ctx context.Context, req ModelRequest, target any) error {
	reply := g.next(req)
	if reply.err != nil {
		return reply.err
	}
	if err := decodeJSONResponse(reply.text, target); err != nil {
		return newError(KindMalformedOutput, err)
	}
	if err := validateOutput(target); err != nil {
		return newError(KindMalformedOutput, err)
	}
	return nil
}

func (g *scriptedGateway) GenerateText(ctx context.Context, req ModelRequest) (string, error) {
	reply := g.next(req)
	return reply.text, reply.err
}

func (g *scriptedGateway) callCount(kind RequestKind) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, call := range g.calls {
		if call == kind {
			n++
		}
	}
	return n
}

func (g *scriptedGateway) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

const (
	validParsedCV = "```json\n" + `{
  "personal_info": {"name": "Rina Hartono", "email": "rina@example.com"},
  "skills": ["Go", "PostgreSQL", "Redis"],
  "work_experience": [{"company": "Acme", "role": "Backend Engineer", "start": "2020-01", "end": "present"}],
  "education": [{"institution": "ITB", "degree": "BSc"}],
  "total_years_experience": 5
}` + "\n```"

	validCVEvaluation = `{
  "technical_skills_score": 4,
  "experience_level_score": 4,
  "achievements_score": 4,
  "cultural_fit_score": 5,
  "weighted_average": 4.1,
  "match_rate": 0.82,
  "feedback": "Strong backend fundamentals with production Go experience."
}`

	validParsedProject = `{
  "summary": "An asynchronous CV evaluation service.",
  "tech_stack": ["Go", "Qdrant"],
  "implemented_features": ["upload", "evaluate", "result"]
}`

	validProjectEvaluation = `{
  "correctness_score": 4,
  "code_quality_score": 4,
  "resilience_score": 4,
  "documentation_score": 4,
  "creativity_score": 3,
  "weighted_average": 3.9,
  "project_score": 4.2,
  "feedback": "Solid pipeline with retries and clear documentation."
}`

	outOfRangeProjectEvaluation = `{"project_score": 7, "feedback": "Exceptional."}`

	validSummary = "The candidate fits the backend role well. Recommendation: Hire. Next step is a system design interview."
)

// memoryEvalRepo is an in-memory EvaluationRepository with the same transition rules.
type memoryEvalRepo struct {
	mu    sync.Mutex
	evals map[uuid.UUID]*models.Evaluation
	// history records every status a job entered, in order.
	history map[uuid.UUID][]models.EvaluationStatus
}

func newMemoryEvalRepo() *memoryEvalRepo {
	return &memoryEvalRepo{
		evals:   make(map[uuid.UUID]*models.Evaluation),
		history: make(map[uuid.UUID][]models.EvaluationStatus),
	}
}

func (r *memoryEvalRepo) Create(ctx context.Context, eval *models.Evaluation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eval.ID == uuid.Nil {
		eval.ID = uuid.New()
	}
	eval.Status = models.StatusQueued
	eval.CreatedAt = time.Now()
	eval.UpdatedAt = eval.CreatedAt
	stored := *eval
	r.evals[eval.ID] = &stored
	r.history[eval.ID] = []models.EvaluationStatus{models.StatusQueued}
	return nil
}

func (r *memoryEvalRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Evaluation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eval, ok := r.evals[id]
	if !ok {
		return nil, repositories.ErrEvaluationNotFound
	}
	copied := *eval
	if eval.Result != nil {
		result := *eval.Result
		copied.Result = &result
	}
	return &copied, nil
}

func (r *memoryEvalRepo) Transition(ctx context.Context, id uuid.UUID, status models.EvaluationStatus, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eval, ok := r.evals[id]
	if !ok {
		return nil
	}

	legal := (status == models.StatusProcessing && eval.Status == models.StatusQueued) ||
		(status == models.StatusFailed && !eval.Status.IsTerminal())
	if !legal {
		return repositories.ErrInvalidTransition
	}
	if status == models.StatusFailed {
		if errorMsg == "" {
			return repositories.ErrInvalidTransition
		}
		eval.ErrorMessage = &errorMsg
	}
	eval.Status = status
	eval.UpdatedAt = time.Now()
	r.history[id] = append(r.history[id], status)
	return nil
}

func (r *memoryEvalRepo) AttachResult(ctx context.Context, id uuid.UUID, result *models.EvaluationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eval, ok := r.evals[id]
	if !ok {
		return repositories.ErrEvaluationNotFound
	}
	if eval.Status != models.StatusProcessing {
		return repositories.ErrInvalidTransition
	}
	stored := *result
	stored.EvaluationID = id
	eval.Result = &stored
	eval.Status = models.StatusCompleted
	eval.UpdatedAt = time.Now()
	r.history[id] = append(r.history[id], models.StatusCompleted)
	return nil
}

func (r *memoryEvalRepo) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eval, ok := r.evals[id]
	if !ok {
		return repositories.ErrEvaluationNotFound
	}
	eval.RetryCount++
	eval.UpdatedAt = time.Now()
	return nil
}

func (r *memoryEvalRepo) Touch(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eval, ok := r.evals[id]; ok {
		eval.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memoryEvalRepo) FindPendingJobs(ctx context.Context, limit int) ([]models.Evaluation, error) {
	return r.find(func(e *models.Evaluation) bool { return e.Status == models.StatusQueued }, limit), nil
}

func (r *memoryEvalRepo) FindStalledJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.Evaluation, error) {
	return r.find(func(e *models.Evaluation) bool {
		return e.Status == models.StatusProcessing && e.UpdatedAt.Before(olderThan)
	}, limit), nil
}

func (r *memoryEvalRepo) find(keep func(*models.Evaluation) bool, limit int) []models.Evaluation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Evaluation
	for _, eval := range r.evals {
		if keep(eval) {
			out = append(out, *eval)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memoryEvalRepo) statuses(id uuid.UUID) []models.EvaluationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.EvaluationStatus(nil), r.history[id]...)
}

// memoryDocRepo is an in-memory DocumentRepository.
type memoryDocRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]models.Document
	err  error
}

func newMemoryDocRepo() *memoryDocRepo {
	return &memoryDocRepo{docs: make(map[uuid.UUID]models.Document)}
}

func (r *memoryDocRepo) Create(ctx context.Context, document *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if document.ID == uuid.Nil {
		document.ID = uuid.New()
	}
	r.docs[document.ID] = *document
	return nil
}

func (r *memoryDocRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	doc, ok := r.docs[id]
	if !ok {
		return nil, repositories.ErrDocumentNotFound
	}
	return &doc, nil
}

func (r *memoryDocRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []models.Document
	for _, id := range ids {
		if doc, ok := r.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// addTextDocument writes content to a file and registers it as a document.
func (r *memoryDocRepo) addTextDocument(t *testing.T, fileType models.DocumentType, content string) uuid.UUID {
	t.Helper()
	path := filepath.Join(t.TempDir(), string(fileType)+".txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	doc := &models.Document{
		ID:               uuid.New(),
		Filename:         filepath.Base(path),
		OriginalFileName: filepath.Base(path),
		FileType:         fileType,
		FilePath:         path,
	}
	if err := r.Create(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc.ID
}

var errBoom = errors.New("boom")
