package openai

import "testing"

func TestModelDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := modelDimensions(tt.model); got != tt.want {
				t.Errorf("modelDimensions(%q) = %d, want %d", tt.model, got, tt.want)
			}
			p := &Provider{model: tt.model}
			if got := p.Dimensions(); got != tt.want {
				t.Errorf("Dimensions() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestModelDimensions_UnknownModelHasPositiveDefault(t *testing.T) {
	if d := modelDimensions("some-future-model"); d <= 0 {
		t.Errorf("modelDimensions(unknown) = %d, want > 0", d)
	}
}

func TestModelID(t *testing.T) {
	p := &Provider{model: "my-custom-embeddings-model"}
	if got := p.ModelID(); got != "my-custom-embeddings-model" {
		t.Errorf("ModelID() = %q", got)
	}
}

func TestNew(t *testing.T) {
	t.Run("empty model falls back to default", func(t *testing.T) {
		p, err := New("sk-test", "")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if p.ModelID() != DefaultModel {
			t.Errorf("ModelID() = %q, want %q", p.ModelID(), DefaultModel)
		}
	})

	t.Run("empty api key rejected", func(t *testing.T) {
		if _, err := New("", "text-embedding-3-small"); err == nil {
			t.Fatal("New with empty key: want error, got nil")
		}
	})

	t.Run("options accepted", func(t *testing.T) {
		_, err := New("sk-test", "text-embedding-3-small",
			WithBaseURL("https://custom.example.com"),
			WithOrganization("org-123"),
		)
		if err != nil {
			t.Fatalf("New with options: %v", err)
		}
	})
}

func TestFloat64ToFloat32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != float32(in[i]) {
			t.Errorf("out[%d] = %v, want %v", i, out[i], float32(in[i]))
		}
	}
}
