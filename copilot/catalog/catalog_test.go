package catalog

import (
	"errors"
	"strings"
	"sync"
	"testing"

	contractx "github.com/mptask/erp-copilot/copilot/contract"
)

func testDocument() Document {
	return Document{
		Endpoints: map[string]EndpointTemplate{
			"create_sales_order": {
				Description: "Create a sales order",
				Method:      "PUT",
				Path:        "/entity/Default/20.200.001/SalesOrder",
				QueryParams: "$expand=Details/Allocations",
				Body:        map[string]any{"CustomerID": map[string]any{"value": "<CUSTOMER_ID>"}},
				Triggers:    []string{"open_screen:SalesOrder"},
			},
			"create_purchase_order": {
				Description: "Create a purchase order",
				Method:      "PUT",
				Path:        "/entity/Default/20.200.001/PurchaseOrder",
				Body:        map[string]any{"VendorID": map[string]any{"value": "<VENDOR_ID>"}},
			},
		},
		Mappings: map[string]map[string][]string{
			"open_screen": {
				"SalesOrder":    {"create_sales_order"},
				"PurchaseOrder": {"create_purchase_order"},
			},
			"add_item": {
				"any": {"create_sales_order", "create_purchase_order", "create_sales_order"},
			},
			"select_customer": {
				"any": {"create_sales_order", "missing_template"},
			},
		},
		Reads: map[string]map[string]ReadPlan{
			"open_screen": {
				"SalesOrder": {
					Description: "Recent sales orders",
					Path:        "/entity/Default/20.200.001/SalesOrder",
					Params:      map[string]string{"$expand": "Details/Allocations"},
				},
				"PurchaseOrder": {
					Path:           "/entity/Default/20.200.001/PurchaseOrder",
					RawQuerySuffix: "?=null",
				},
			},
		},
	}
}

func mustCatalog(t *testing.T, doc Document) *Catalog {
	t.Helper()
	c, err := New(doc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsInvalidTemplates(t *testing.T) {
	t.Parallel()

	doc := testDocument()
	doc.Endpoints["broken"] = EndpointTemplate{Description: "no method or path"}
	if _, err := New(doc); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestMatchExactDiscriminator(t *testing.T) {
	t.Parallel()

	c := mustCatalog(t, testDocument())
	got := c.Match(contractx.UserAction{
		Type:    "open_screen",
		Payload: map[string]any{"screen": "SalesOrder"},
	})
	if len(got) != 1 || got[0].Name != "create_sales_order" {
		t.Fatalf("got %v, want [create_sales_order]", names(got))
	}
}

func TestMatchWildcardOnlyWhenNoExactEntry(t *testing.T) {
	t.Parallel()

	doc := testDocument()
	doc.Mappings["open_screen"]["any"] = []string{"create_purchase_order"}
	c := mustCatalog(t, doc)

	// Exact entry exists for SalesOrder, so the wildcard never applies.
	got := c.Match(contractx.UserAction{
		Type:    "open_screen",
		Payload: map[string]any{"screen": "SalesOrder"},
	})
	if len(got) != 1 || got[0].Name != "create_sales_order" {
		t.Fatalf("got %v, want exact match to win over wildcard", names(got))
	}

	// Unknown screen falls back to the wildcard.
	got = c.Match(contractx.UserAction{
		Type:    "open_screen",
		Payload: map[string]any{"screen": "Shipments"},
	})
	if len(got) != 1 || got[0].Name != "create_purchase_order" {
		t.Fatalf("got %v, want wildcard fallback", names(got))
	}
}

func TestMatchDedupKeepsDeclarationOrder(t *testing.T) {
	t.Parallel()

	c := mustCatalog(t, testDocument())
	got := c.Match(contractx.UserAction{Type: "add_item", Payload: map[string]any{"item": "X"}})
	want := []string{"create_sales_order", "create_purchase_order"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", names(got), want)
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("candidate[%d] = %q, want %q", i, got[i].Name, name)
		}
	}
}

func TestMatchSkipsUnknownTemplateNames(t *testing.T) {
	t.Parallel()

	c := mustCatalog(t, testDocument())
	got := c.Match(contractx.UserAction{Type: "select_customer", Payload: map[string]any{"entity": "C0001"}})
	if len(got) != 1 || got[0].Name != "create_sales_order" {
		t.Fatalf("got %v, want the unmapped name dropped silently", names(got))
	}
}

func TestMatchUnknownActionType(t *testing.T) {
	t.Parallel()

	c := mustCatalog(t, testDocument())
	if got := c.Match(contractx.UserAction{Type: "close_screen"}); got != nil {
		t.Fatalf("got %v, want nil", names(got))
	}
}

func TestReadPlanFor(t *testing.T) {
	t.Parallel()

	c := mustCatalog(t, testDocument())

	plan, ok := c.ReadPlanFor(contractx.UserAction{
		Type:    "open_screen",
		Payload: map[string]any{"screen": "PurchaseOrder"},
	})
	if !ok {
		t.Fatal("expected a read plan for PurchaseOrder")
	}
	if plan.RawQuerySuffix != "?=null" {
		t.Errorf("RawQuerySuffix = %q, want ?=null", plan.RawQuerySuffix)
	}

	if _, ok := c.ReadPlanFor(contractx.UserAction{Type: "add_item"}); ok {
		t.Error("unexpected read plan for add_item")
	}
}

func TestReloadSwapsAtomically(t *testing.T) {
	t.Parallel()

	c := mustCatalog(t, testDocument())

	action := contractx.UserAction{
		Type:    "open_screen",
		Payload: map[string]any{"screen": "SalesOrder"},
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// Every observation must be internally consistent: either the
				// old or the new generation, never a mix.
				got := c.Match(action)
				switch len(got) {
				case 0:
				case 1:
					if got[0].Method != "PUT" && got[0].Method != "POST" {
						t.Errorf("torn read: method %q", got[0].Method)
						return
					}
				default:
					t.Errorf("torn read: %d candidates", len(got))
					return
				}
			}
		}()
	}

	next := testDocument()
	tpl := next.Endpoints["create_sales_order"]
	tpl.Method = "POST"
	next.Endpoints["create_sales_order"] = tpl
	for i := 0; i < 100; i++ {
		if err := c.Reload(next); err != nil {
			t.Fatalf("Reload: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	got, ok := c.Template("create_sales_order")
	if !ok || got.Method != "POST" {
		t.Fatalf("Template after reload = %+v, want method POST", got)
	}
}

func TestReloadRejectsInvalidAndKeepsOld(t *testing.T) {
	t.Parallel()

	c := mustCatalog(t, testDocument())

	bad := testDocument()
	bad.Endpoints[""] = EndpointTemplate{Method: "GET", Path: "/x"}
	if err := c.Reload(bad); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	if _, ok := c.Template("create_sales_order"); !ok {
		t.Fatal("old snapshot lost after failed reload")
	}
}

func TestFormatForLLMListsTemplates(t *testing.T) {
	t.Parallel()

	c := mustCatalog(t, testDocument())
	out := c.FormatForLLM()

	for _, want := range []string{
		"## create_purchase_order",
		"## create_sales_order",
		"**Method**: PUT",
		"$expand=Details/Allocations",
		"<CUSTOMER_ID>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendering missing %q", want)
		}
	}

	// Sorted by name: purchase before sales.
	if strings.Index(out, "create_purchase_order") > strings.Index(out, "create_sales_order") {
		t.Error("templates not sorted by name")
	}

	empty := mustCatalog(t, Document{})
	if got := empty.FormatForLLM(); got != "No endpoint configurations available." {
		t.Errorf("empty rendering = %q", got)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	c := mustCatalog(t, testDocument())
	sum := c.Summary()
	if sum.TotalEndpoints != 2 {
		t.Errorf("TotalEndpoints = %d, want 2", sum.TotalEndpoints)
	}
	if len(sum.EndpointNames) != 2 || sum.EndpointNames[0] != "create_purchase_order" {
		t.Errorf("EndpointNames = %v, want sorted names", sum.EndpointNames)
	}
	if len(sum.ActionMappings["open_screen"]["SalesOrder"]) != 1 {
		t.Errorf("ActionMappings = %v", sum.ActionMappings)
	}
}

func TestDefaultDocumentParses(t *testing.T) {
	t.Parallel()

	doc := DefaultDocument()
	if len(doc.Endpoints) == 0 {
		t.Fatal("embedded catalog has no endpoints")
	}
	if _, err := New(doc); err != nil {
		t.Fatalf("New(embedded): %v", err)
	}
}

func TestLoadEmptyPathUsesEmbedded(t *testing.T) {
	t.Parallel()

	doc, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := doc.Endpoints["create_sales_order"]; !ok {
		t.Error("embedded catalog missing create_sales_order")
	}
}

func names(tpls []EndpointTemplate) []string {
	out := make([]string, 0, len(tpls))
	for _, tpl := range tpls {
		out = append(out, tpl.Name)
	}
	return out
}
