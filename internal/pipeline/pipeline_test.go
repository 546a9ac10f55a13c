package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/kodacare/koda/internal/extractor"
	"github.com/kodacare/koda/internal/input"
	"github.com/kodacare/koda/internal/persona"
	"github.com/kodacare/koda/internal/store"
)

// fakeStorage is an in-memory Storage with the same uniqueness
// guarantee as the real store: one card per (owner, normalized name),
// enforced under a mutex so concurrent tests mean something.
type fakeStorage struct {
	mu       sync.Mutex
	memories map[string]persona.Memory
	cards    map[string]*store.Card
	logs     []store.LogEntry

	memErr     error
	cardErr    error
	summaryErr error
	logErr     error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		memories: make(map[string]persona.Memory),
		cards:    make(map[string]*store.Card),
	}
}

func (f *fakeStorage) GetOrCreateMemory(_ context.Context, userID string) (persona.Memory, error) {
	if f.memErr != nil {
		return persona.Memory{}, f.memErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.memories[userID]; ok {
		return m, nil
	}
	m := persona.Memory{UserID: userID, Preferences: persona.DefaultPreferences()}
	f.memories[userID] = m
	return m, nil
}

func (f *fakeStorage) AppendSummaryLine(_ context.Context, userID, line string) (persona.Memory, error) {
	if f.summaryErr != nil {
		return persona.Memory{}, f.summaryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.memories[userID]
	if m.Summary == "" {
		m.Summary = line
	} else {
		m.Summary += "\n" + line
	}
	f.memories[userID] = m
	return m, nil
}

func (f *fakeStorage) FindOrCreateCard(_ context.Context, ownerID, rawName string) (store.Card, bool, error) {
	if f.cardErr != nil {
		return store.Card{}, false, f.cardErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := store.NormalizeConditionName(rawName)
	key := ownerID + "|" + name
	if c, ok := f.cards[key]; ok {
		c.OccurrenceCount++
		c.Status = store.StatusActive
		return *c, false, nil
	}
	c := &store.Card{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Name:            name,
		Status:          store.StatusActive,
		OccurrenceCount: 1,
	}
	f.cards[key] = c
	return *c, true, nil
}

func (f *fakeStorage) CreateLog(_ context.Context, ownerID string, result *extractor.Result, mode input.Mode, cardID uuid.UUID) (store.LogEntry, error) {
	if f.logErr != nil {
		return store.LogEntry{}, f.logErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := store.LogEntry{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		CardID:        cardID,
		ConditionName: store.NormalizeConditionName(result.ConditionName),
		Severity:      result.Data.Severity,
		Locations:     result.Data.Locations,
		Details:       result.Data.Details,
		OccurredAt:    result.Data.OccurredAt,
		InputMode:     mode,
		ResponseText:  result.ResponseText,
		ExtraNotes:    result.Data.ExtraNotes,
	}
	f.logs = append(f.logs, entry)
	return entry, nil
}

type fakeOracle struct {
	mu           sync.Mutex
	result       *extractor.Result
	err          error
	calls        int
	instructions []string
	parts        [][]input.Part
	history      [][]extractor.Turn
}

func (f *fakeOracle) Invoke(_ context.Context, instruction string, parts []input.Part, history []extractor.Turn) (*extractor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.instructions = append(f.instructions, instruction)
	f.parts = append(f.parts, parts)
	f.history = append(f.history, history)
	if f.err != nil {
		return nil, f.err
	}
	out := *f.result
	return &out, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
	err      error
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func updateResult(name string) *extractor.Result {
	return &extractor.Result{
		Action:        extractor.ActionUpdateCondition,
		ConditionName: name,
		Data: extractor.ExtractedData{
			Severity:   6,
			Locations:  []string{"front of head"},
			Details:    "throbbing since lunch",
			OccurredAt: "today around noon",
		},
		ResponseText: "I'm sorry your head hurts, friend. I've made a note of it.",
	}
}

func TestProcessLogsNewCondition(t *testing.T) {
	storage := newFakeStorage()
	oracle := &fakeOracle{result: updateResult("headache")}
	pub := &fakePublisher{}
	p := New(storage, oracle, pub, discardLogger())

	res, err := p.Process(context.Background(), "user-1", input.Raw{Text: "my head hurts"}, Options{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if res.Action != extractor.ActionUpdateCondition {
		t.Errorf("Action = %q, want update_condition", res.Action)
	}
	if res.CardID == nil || res.LogID == nil || res.WasNewCard == nil {
		t.Fatal("expected card_id, log_id, and was_new_card to be set")
	}
	if !*res.WasNewCard {
		t.Error("WasNewCard = false, want true for first report")
	}
	if res.MemoryContext.MascotName != persona.DefaultMascotName {
		t.Errorf("MascotName = %q, want default", res.MemoryContext.MascotName)
	}
	if !res.MemoryContext.IsFirstInteraction {
		t.Error("IsFirstInteraction = false, want true for empty summary")
	}

	card := storage.cards["user-1|Headache"]
	if card == nil {
		t.Fatal("no card stored under normalized name")
	}
	if card.OccurrenceCount != 1 {
		t.Errorf("OccurrenceCount = %d, want 1", card.OccurrenceCount)
	}
	if len(storage.logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(storage.logs))
	}
	if storage.logs[0].ConditionName != "Headache" {
		t.Errorf("log condition name = %q, want Headache", storage.logs[0].ConditionName)
	}

	summary := storage.memories["user-1"].Summary
	if !strings.Contains(summary, "Headache: severity 6/10") {
		t.Errorf("summary = %q, want headache recap line", summary)
	}

	if len(pub.subjects) != 1 || pub.subjects[0] != "koda.condition.logged" {
		t.Errorf("published subjects = %v, want one koda.condition.logged", pub.subjects)
	}
}

func TestProcessRecurrenceReusesCard(t *testing.T) {
	storage := newFakeStorage()
	oracle := &fakeOracle{result: updateResult("headache")}
	p := New(storage, oracle, nil, discardLogger())

	first, err := p.Process(context.Background(), "user-1", input.Raw{Text: "headache again"}, Options{})
	if err != nil {
		t.Fatalf("first Process() error = %v", err)
	}

	// Same condition, different casing.
	oracle.result = updateResult("HEADACHE")
	second, err := p.Process(context.Background(), "user-1", input.Raw{Text: "it came back"}, Options{})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}

	if *second.CardID != *first.CardID {
		t.Errorf("second report created a new card: %s vs %s", *second.CardID, *first.CardID)
	}
	if *second.WasNewCard {
		t.Error("WasNewCard = true on recurrence, want false")
	}
	if got := storage.cards["user-1|Headache"].OccurrenceCount; got != 2 {
		t.Errorf("OccurrenceCount = %d, want 2", got)
	}
	if len(storage.logs) != 2 {
		t.Errorf("logs = %d, want 2 (one per report)", len(storage.logs))
	}
}

func TestProcessReactivatesResolvedCard(t *testing.T) {
	storage := newFakeStorage()
	storage.cards["user-1|Headache"] = &store.Card{
		ID:              uuid.New(),
		OwnerID:         "user-1",
		Name:            "Headache",
		Status:          store.StatusResolved,
		OccurrenceCount: 3,
	}
	oracle := &fakeOracle{result: updateResult("headache")}
	p := New(storage, oracle, nil, discardLogger())

	res, err := p.Process(context.Background(), "user-1", input.Raw{Text: "the headache is back"}, Options{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if *res.WasNewCard {
		t.Error("WasNewCard = true, want false for reactivation")
	}
	card := storage.cards["user-1|Headache"]
	if card.Status != store.StatusActive {
		t.Errorf("Status = %q, want active after recurrence", card.Status)
	}
	if card.OccurrenceCount != 4 {
		t.Errorf("OccurrenceCount = %d, want 4", card.OccurrenceCount)
	}
}

func TestProcessGeneralChatWritesNothing(t *testing.T) {
	storage := newFakeStorage()
	oracle := &fakeOracle{result: &extractor.Result{
		Action:       extractor.ActionGeneralChat,
		ResponseText: "Hello friend! How are you feeling today?",
	}}
	pub := &fakePublisher{}
	p := New(storage, oracle, pub, discardLogger())

	res, err := p.Process(context.Background(), "user-1", input.Raw{Text: "hi barnaby"}, Options{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if res.CardID != nil || res.LogID != nil || res.WasNewCard != nil {
		t.Error("general_chat must not attach card or log ids")
	}
	if len(storage.cards) != 0 || len(storage.logs) != 0 {
		t.Error("general_chat must not write cards or logs")
	}
	if storage.memories["user-1"].Summary != "" {
		t.Errorf("summary mutated on general_chat: %q", storage.memories["user-1"].Summary)
	}
	if len(pub.subjects) != 0 {
		t.Errorf("published %v on general_chat, want nothing", pub.subjects)
	}
}

func TestProcessEmptyInput(t *testing.T) {
	storage := newFakeStorage()
	oracle := &fakeOracle{result: updateResult("headache")}
	p := New(storage, oracle, nil, discardLogger())

	_, err := p.Process(context.Background(), "user-1", input.Raw{}, Options{})
	if !errors.Is(err, input.ErrNoInput) {
		t.Fatalf("Process() error = %v, want ErrNoInput", err)
	}
	if oracle.calls != 0 {
		t.Error("oracle invoked despite invalid input")
	}
	if len(storage.memories) != 0 {
		t.Error("memory touched despite invalid input")
	}
}

func TestProcessForceLogAllowsEmptyInput(t *testing.T) {
	storage := newFakeStorage()
	oracle := &fakeOracle{result: updateResult("sore throat")}
	p := New(storage, oracle, nil, discardLogger())

	history := []extractor.Turn{
		{Role: "user", Text: "my throat hurts"},
		{Role: "model", Text: "oh no, how bad is it?"},
		{Role: "user", Text: "about a 4"},
	}
	res, err := p.Process(context.Background(), "user-1", input.Raw{}, Options{ForceLog: true, History: history})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.CardID == nil {
		t.Fatal("expected a card from forced finalization")
	}
	if oracle.calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", oracle.calls)
	}
	if len(oracle.parts[0]) != 0 {
		t.Errorf("parts = %d, want none for forced empty input", len(oracle.parts[0]))
	}
	if len(oracle.history[0]) != 3 {
		t.Errorf("history turns = %d, want 3", len(oracle.history[0]))
	}
	if !strings.Contains(oracle.instructions[0], "ASKED TO LOG THIS NOW") {
		t.Error("instruction missing force-log clause")
	}
}

func TestProcessOracleErrorPropagates(t *testing.T) {
	storage := newFakeStorage()
	wantErr := extractor.ErrMalformedResponse
	oracle := &fakeOracle{err: wantErr}
	p := New(storage, oracle, nil, discardLogger())

	_, err := p.Process(context.Background(), "user-1", input.Raw{Text: "my head hurts"}, Options{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Process() error = %v, want %v", err, wantErr)
	}
	if len(storage.cards) != 0 || len(storage.logs) != 0 {
		t.Error("storage mutated despite oracle failure")
	}
	if storage.memories["user-1"].Summary != "" {
		t.Error("summary mutated despite oracle failure")
	}
}

func TestProcessStorageErrorPropagates(t *testing.T) {
	storage := newFakeStorage()
	storage.cardErr = errors.New("pool closed")
	oracle := &fakeOracle{result: updateResult("headache")}
	p := New(storage, oracle, nil, discardLogger())

	_, err := p.Process(context.Background(), "user-1", input.Raw{Text: "my head hurts"}, Options{})
	if err == nil || !strings.Contains(err.Error(), "upsert card") {
		t.Fatalf("Process() error = %v, want upsert card failure", err)
	}
	if len(storage.logs) != 0 {
		t.Error("log created despite card failure")
	}
}

func TestProcessLogFailureLeavesMemoryUntouched(t *testing.T) {
	storage := newFakeStorage()
	storage.logErr = errors.New("insert failed")
	oracle := &fakeOracle{result: updateResult("headache")}
	p := New(storage, oracle, nil, discardLogger())

	_, err := p.Process(context.Background(), "user-1", input.Raw{Text: "my head hurts"}, Options{})
	if err == nil || !strings.Contains(err.Error(), "create log") {
		t.Fatalf("Process() error = %v, want create log failure", err)
	}
	if storage.memories["user-1"].Summary != "" {
		t.Error("summary mutated despite log failure")
	}
}

func TestProcessPublishFailureIsNonFatal(t *testing.T) {
	storage := newFakeStorage()
	oracle := &fakeOracle{result: updateResult("headache")}
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	p := New(storage, oracle, pub, discardLogger())

	res, err := p.Process(context.Background(), "user-1", input.Raw{Text: "my head hurts"}, Options{})
	if err != nil {
		t.Fatalf("Process() error = %v, publish failure must not fail the report", err)
	}
	if res.LogID == nil {
		t.Error("log id missing after successful persistence")
	}
}

func TestProcessMemoryContextReflectsPriorSummary(t *testing.T) {
	storage := newFakeStorage()
	storage.memories["user-1"] = persona.Memory{
		UserID: "user-1",
		Preferences: persona.Preferences{
			Tone:       "playful",
			NameUsed:   "Sam",
			MascotName: "Luna the Fox",
		},
		Summary: "Headache: severity 3/10, locations [temples], mild (yesterday)",
	}
	oracle := &fakeOracle{result: updateResult("headache")}
	p := New(storage, oracle, nil, discardLogger())

	res, err := p.Process(context.Background(), "user-1", input.Raw{Text: "worse today"}, Options{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	mc := res.MemoryContext
	if mc.MascotName != "Luna the Fox" || mc.NameUsed != "Sam" || mc.Tone != "playful" {
		t.Errorf("memory context = %+v, want stored preferences", mc)
	}
	if mc.IsFirstInteraction {
		t.Error("IsFirstInteraction = true with non-empty summary")
	}
	if mc.SummaryLength == 0 {
		t.Error("SummaryLength = 0 with non-empty summary")
	}
	if !strings.Contains(oracle.instructions[0], "Luna the Fox") {
		t.Error("instruction missing stored mascot name")
	}
	if !strings.Contains(oracle.instructions[0], "temples") {
		t.Error("instruction missing prior summary")
	}
}

func TestProcessConcurrentSameCondition(t *testing.T) {
	storage := newFakeStorage()
	oracle := &fakeOracle{result: updateResult("migraine")}
	p := New(storage, oracle, nil, discardLogger())

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Process(context.Background(), "user-1", input.Raw{Text: "migraine"}, Options{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Process() error = %v", err)
		}
	}

	if len(storage.cards) != 1 {
		t.Fatalf("cards = %d, want exactly 1", len(storage.cards))
	}
	if got := storage.cards["user-1|Migraine"].OccurrenceCount; got != n {
		t.Errorf("OccurrenceCount = %d, want %d", got, n)
	}
	if len(storage.logs) != n {
		t.Errorf("logs = %d, want %d", len(storage.logs), n)
	}
}

func TestSummaryLine(t *testing.T) {
	data := extractor.ExtractedData{
		Severity:   6,
		Locations:  []string{"front of head", "behind eyes"},
		Details:    "throbbing since lunch",
		OccurredAt: "today around noon",
		ExtraNotes: []string{"took ibuprofen", "skipped breakfast"},
	}
	got := summaryLine("Headache", data)
	want := "Headache: severity 6/10, locations [front of head, behind eyes], throbbing since lunch (today around noon) [notes: took ibuprofen; skipped breakfast]"
	if got != want {
		t.Errorf("summaryLine = %q, want %q", got, want)
	}

	got = summaryLine("Cough", extractor.ExtractedData{Severity: 2, Details: "dry cough"})
	want = "Cough: severity 2/10, locations [], dry cough (unknown time)"
	if got != want {
		t.Errorf("summaryLine = %q, want %q", got, want)
	}
}
