package voice

import (
	"testing"

	"github.com/joan6141318-ai/Moon-sub000/internal/types"
)

func TestTranscriptMerge(t *testing.T) {
	type frag struct {
		source types.Source
		text   string
		turn   bool // complete the turn before adding
	}

	tests := []struct {
		name  string
		frags []frag
		want  []string
	}{
		{
			name:  "same source merges",
			frags: []frag{{types.SourceUser, "Hola", false}, {types.SourceUser, " mundo", false}},
			want:  []string{"user:Hola mundo"},
		},
		{
			name: "source change opens entry",
			frags: []frag{
				{types.SourceUser, "Hola", false},
				{types.SourceModel, "Buenas", false},
				{types.SourceModel, " tardes", false},
			},
			want: []string{"user:Hola", "model:Buenas tardes"},
		},
		{
			name:  "turn boundary is not merged",
			frags: []frag{{types.SourceUser, "Hola", false}, {types.SourceUser, "Adiós", true}},
			want:  []string{"user:Hola", "user:Adiós"},
		},
		{
			name:  "empty fragment ignored",
			frags: []frag{{types.SourceUser, "", false}, {types.SourceModel, "Sí", false}},
			want:  []string{"model:Sí"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTranscript()
			for _, f := range tt.frags {
				if f.turn {
					tr.CompleteTurn()
				}
				tr.Add(f.source, f.text)
			}

			got := tr.Entries()
			if len(got) != len(tt.want) {
				t.Fatalf("entries = %+v, want %v", got, tt.want)
			}
			for i, e := range got {
				if s := string(e.Source) + ":" + e.Text; s != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, s, tt.want[i])
				}
				if e.ID == "" {
					t.Errorf("entry %d has no id", i)
				}
			}
		})
	}
}

func TestTranscriptCompleteTurn(t *testing.T) {
	tr := NewTranscript()
	tr.Add(types.SourceModel, "Bienvenida")
	tr.CompleteTurn()

	tr.Add(types.SourceUser, "Quiero")
	tr.Add(types.SourceUser, " una cita")
	tr.Add(types.SourceModel, "Claro")

	if user, model := tr.Pending(); user != "Quiero una cita" || model != "Claro" {
		t.Errorf("pending = %q, %q", user, model)
	}

	res := tr.CompleteTurn()
	if res.UserText != "Quiero una cita" || res.ModelText != "Claro" {
		t.Errorf("turn = %+v", res)
	}
	if res.Start != 1 || res.End != 3 {
		t.Errorf("range = [%d,%d), want [1,3)", res.Start, res.End)
	}
	if user, model := tr.Pending(); user != "" || model != "" {
		t.Errorf("accumulators not reset: %q, %q", user, model)
	}

	empty := tr.CompleteTurn()
	if empty.Start != empty.End || empty.UserText != "" {
		t.Errorf("empty turn = %+v", empty)
	}
}

func TestTranscriptEntriesIsCopy(t *testing.T) {
	tr := NewTranscript()
	tr.Add(types.SourceUser, "Hola")

	got := tr.Entries()
	got[0].Text = "changed"
	if tr.Entry(0).Text != "Hola" {
		t.Error("Entries exposed internal storage")
	}

	tr.SetLang(0, "es")
	tr.SetLang(5, "en")
	if tr.Entry(0).Lang != "es" {
		t.Errorf("lang = %q", tr.Entry(0).Lang)
	}

	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("len after reset = %d", tr.Len())
	}
}
