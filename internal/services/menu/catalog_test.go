package menu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
)

func seedCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog := NewCatalog(docstore.NewMemory())
	_, err := catalog.Import(context.Background(), []models.MenuItem{
		{ID: "picanha", Name: "Picanha", Price: decimal.RequireFromString("14.00"), Category: models.CategoryRodizio, Available: true},
		{ID: "feijoada", Name: "Feijoada", Price: decimal.RequireFromString("19.00"), Category: models.CategoryDiaria, Available: true},
		{ID: "guarana", Name: "Guaraná", Price: decimal.RequireFromString("2.50"), Category: models.CategoryBebidas, Available: true},
		{ID: "caipirinha", Name: "Caipirinha", Price: decimal.RequireFromString("6.00"), Category: models.CategoryBebidas, Available: true},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	return catalog
}

func TestCatalog_ListAndGroup(t *testing.T) {
	catalog := seedCatalog(t)
	ctx := context.Background()

	drinks, err := catalog.List(ctx, models.CategoryBebidas)
	if err != nil {
		t.Fatal(err)
	}
	if len(drinks) != 2 || drinks[0].Name != "Caipirinha" {
		t.Fatalf("unexpected drinks %+v", drinks)
	}

	grouped, err := catalog.Grouped(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(grouped) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(grouped))
	}

	item, err := catalog.Get(ctx, "picanha")
	if err != nil {
		t.Fatal(err)
	}
	if !item.Price.Equal(decimal.NewFromInt(14)) {
		t.Errorf("price = %s", item.Price)
	}

	if _, err := catalog.Get(ctx, "missing"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCatalog_ImportRejectsInvalid(t *testing.T) {
	catalog := NewCatalog(docstore.NewMemory())
	_, err := catalog.Import(context.Background(), []models.MenuItem{
		{ID: "x", Name: "", Price: decimal.NewFromInt(1), Category: models.CategoryPorcoes},
	})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandler_List(t *testing.T) {
	h := NewHandler(seedCatalog(t), logger.Discard())
	r := chi.NewRouter()
	h.Routes(r)

	tests := []struct {
		name      string
		url       string
		wantCode  int
		wantItems int
	}{
		{"all", "/menu", http.StatusOK, 4},
		{"category", "/menu?category=diaria", http.StatusOK, 1},
		{"single", "/menu/guarana", http.StatusOK, -1},
		{"missing", "/menu/nope", http.StatusNotFound, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if tt.wantItems >= 0 {
				var items []models.MenuItem
				if err := json.NewDecoder(rr.Body).Decode(&items); err != nil {
					t.Fatal(err)
				}
				if len(items) != tt.wantItems {
					t.Errorf("got %d items, want %d", len(items), tt.wantItems)
				}
			}
		})
	}
}
