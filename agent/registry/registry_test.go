package registry

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
)

type fakeTool struct {
	descriptor contractx.ToolDescriptor
}

func (f fakeTool) Descriptor() contractx.ToolDescriptor { return f.descriptor }
func (f fakeTool) Invoke(context.Context, map[string]any) (contractx.ToolResult, error) {
	return contractx.ToolResult{}, nil
}

func TestRegistryRegisterRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	r := New(nil, Config{})
	d := contractx.ToolDescriptor{Name: "list_alerts", DataSourceClass: contractx.DataSourceRESTAPI}
	if err := r.Register(d, fakeTool{d}); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := r.Register(d, fakeTool{d})
	var regErr *contractx.RegistryError
	if !errors.As(err, &regErr) || !errors.Is(regErr, contractx.ErrDuplicateName) {
		t.Fatalf("Register() error = %v, want RegistryError{DUPLICATE_NAME}", err)
	}
}

func TestRegistryRankFiltersByDataSourceClass(t *testing.T) {
	t.Parallel()

	r := New(nil, Config{})
	sqlTool := contractx.ToolDescriptor{Name: "alerts_by_user", Description: "query alerts by user id", DataSourceClass: contractx.DataSourceRelationalDB}
	restTool := contractx.ToolDescriptor{Name: "list_users", Description: "list users by department", DataSourceClass: contractx.DataSourceRESTAPI}
	mustRegister(t, r, sqlTool)
	mustRegister(t, r, restTool)

	sqlClass := contractx.DataSourceRelationalDB
	ranked, err := r.Rank(context.Background(), "alerts for a user", &sqlClass)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if len(ranked) != 1 || ranked[0].Descriptor.Name != "alerts_by_user" {
		t.Fatalf("Rank() = %#v, want only alerts_by_user", ranked)
	}
}

func TestRegistryRankDropsLowScores(t *testing.T) {
	t.Parallel()

	r := New(nil, Config{})
	mustRegister(t, r, contractx.ToolDescriptor{Name: "list_alerts", Description: "list open alerts by status"})

	ranked, err := r.Rank(context.Background(), "completely unrelated query about weather", nil)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if len(ranked) != 0 {
		t.Fatalf("Rank() = %#v, want no candidates above threshold", ranked)
	}
}

func TestRegistryRankTieBreaksByPriorityThenName(t *testing.T) {
	t.Parallel()

	r := New(nil, Config{})
	mustRegister(t, r, contractx.ToolDescriptor{Name: "b_tool", Description: "alerts status open", Priority: 1})
	mustRegister(t, r, contractx.ToolDescriptor{Name: "a_tool", Description: "alerts status open", Priority: 5})

	ranked, err := r.Rank(context.Background(), "alerts status open", nil)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if len(ranked) != 2 || ranked[0].Descriptor.Name != "a_tool" {
		t.Fatalf("Rank() = %#v, want a_tool first by priority", ranked)
	}
}

func TestRegistryRankIsStableAcrossIdenticalDescriptors(t *testing.T) {
	t.Parallel()

	r1 := New(nil, Config{})
	r2 := New(nil, Config{})
	descs := []contractx.ToolDescriptor{
		{Name: "z_tool", Description: "alerts status open", Priority: 2},
		{Name: "a_tool", Description: "alerts status open", Priority: 2},
	}
	for _, d := range descs {
		mustRegister(t, r1, d)
		mustRegister(t, r2, d)
	}

	got1, err := r1.Rank(context.Background(), "open alerts", nil)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	got2, err := r2.Rank(context.Background(), "open alerts", nil)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if len(got1) != len(got2) {
		t.Fatalf("ranking lengths differ: %d vs %d", len(got1), len(got2))
	}
	for i := range got1 {
		if got1[i].Descriptor.Name != got2[i].Descriptor.Name {
			t.Fatalf("ranking order differs at %d: %s vs %s", i, got1[i].Descriptor.Name, got2[i].Descriptor.Name)
		}
	}
}

func mustRegister(t *testing.T, r *Registry, d contractx.ToolDescriptor) {
	t.Helper()
	if err := r.Register(d, fakeTool{d}); err != nil {
		t.Fatalf("Register(%s) error = %v", d.Name, err)
	}
}
