package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/intentql/intentql/internal/corpus"
)

type fakeLister struct {
	rows []corpus.TemplateRow
	err  error
}

func (f *fakeLister) ListTemplates(_ context.Context) ([]corpus.TemplateRow, error) {
	return f.rows, f.err
}

func encodedRow(id int64, intent string, vec []float32) corpus.TemplateRow {
	return corpus.TemplateRow{
		ID:         id,
		IntentText: intent,
		SQLText:    "SELECT 1",
		Embedding:  corpus.EncodeEmbedding(vec),
	}
}

func TestRebuildSkipsUnparseableRows(t *testing.T) {
	lister := &fakeLister{rows: []corpus.TemplateRow{
		encodedRow(1, "good", []float32{1, 0}),
		{ID: 2, IntentText: "null embedding", SQLText: "SELECT 1"},
		{ID: 3, IntentText: "truncated", SQLText: "SELECT 1", Embedding: []byte{1, 2, 3}},
		encodedRow(4, "wrong dimension", []float32{1, 0, 0}),
		encodedRow(5, "also good", []float32{0, 1}),
	}}

	builder := &Builder{Store: lister}
	snapshot, err := builder.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if len(snapshot.Templates) != 2 {
		t.Fatalf("len(Templates) = %d, want 2", len(snapshot.Templates))
	}
	if snapshot.Dimension != 2 {
		t.Fatalf("Dimension = %d, want 2", snapshot.Dimension)
	}
	if snapshot.Templates[0].ID != 1 || snapshot.Templates[1].ID != 5 {
		t.Fatalf("unexpected template ids: %d, %d", snapshot.Templates[0].ID, snapshot.Templates[1].ID)
	}
}

func TestRebuildNormalizesEmbeddings(t *testing.T) {
	lister := &fakeLister{rows: []corpus.TemplateRow{encodedRow(1, "unnormalized", []float32{3, 4})}}
	builder := &Builder{Store: lister}
	snapshot, err := builder.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	vec := snapshot.Templates[0].Embedding
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("squared norm = %v, want 1", sum)
	}
}

func TestRebuildEmptyCorpus(t *testing.T) {
	builder := &Builder{Store: &fakeLister{rows: []corpus.TemplateRow{
		{ID: 1, IntentText: "no embedding", SQLText: "SELECT 1"},
	}}}
	if _, err := builder.Rebuild(context.Background()); !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("err = %v, want ErrEmptyCorpus", err)
	}
}

func TestRebuildPropagatesStoreError(t *testing.T) {
	builder := &Builder{Store: &fakeLister{err: errors.New("db down")}}
	if _, err := builder.Rebuild(context.Background()); err == nil {
		t.Fatal("expected store error")
	}
}

func TestHandleStartsEmpty(t *testing.T) {
	var handle Handle
	if _, ok := handle.Load(); ok {
		t.Fatal("empty handle should report not ready")
	}
}

// Concurrent readers must always observe a snapshot whose tree positions
// resolve into its own template list, across interleaved rebuilds.
func TestHandleSwapIsAtomicUnderConcurrency(t *testing.T) {
	var handle Handle

	snapshotOf := func(n int) *Snapshot {
		rows := make([]corpus.TemplateRow, n)
		for i := range rows {
			rows[i] = encodedRow(int64(i+1), fmt.Sprintf("intent %d of %d", i, n), []float32{float32(i), float32(n)})
		}
		builder := &Builder{Store: &fakeLister{rows: rows}}
		snapshot, err := builder.Rebuild(context.Background())
		if err != nil {
			t.Fatalf("Rebuild(%d) error = %v", n, err)
		}
		return snapshot
	}

	sizes := []int{1, 2, 5, 9, 17}
	handle.Swap(snapshotOf(sizes[0]))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snapshot, ok := handle.Load()
				if !ok {
					t.Error("handle became empty mid-run")
					return
				}
				neighbors := snapshot.Search([]float32{0, 1}, 3)
				for _, nb := range neighbors {
					if nb.Position < 0 || nb.Position >= len(snapshot.Templates) {
						t.Errorf("neighbor position %d out of range for %d templates", nb.Position, len(snapshot.Templates))
						return
					}
					want := fmt.Sprintf("of %d", len(snapshot.Templates))
					got := snapshot.Templates[nb.Position].IntentText
					if len(got) < len(want) || got[len(got)-len(want):] != want {
						t.Errorf("template %q does not belong to snapshot of %d", got, len(snapshot.Templates))
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		handle.Swap(snapshotOf(sizes[i%len(sizes)]))
	}
	close(stop)
	wg.Wait()
}
