package soap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
)

const sampleResponse = `<?xml version="1.0"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <GetOrderStatusResponse>
      <Orders>
        <Order><OrderID>O1</OrderID><Status>SHIPPED</Status></Order>
        <Order><OrderID>O2</OrderID><Status>PENDING</Status></Order>
      </Orders>
    </GetOrderStatusResponse>
  </soapenv:Body>
</soapenv:Envelope>`

func TestToolInvokeParsesResponseRows(t *testing.T) {
	t.Parallel()

	var gotAction string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(sampleResponse))
	}))
	defer server.Close()

	descriptor := contractx.ToolDescriptor{
		Name: "GetOrderStatus",
		ParameterSchema: []contractx.ParameterSpec{
			{Name: "OrderID", Required: true},
		},
	}
	tool := New(descriptor, server.URL, "urn:GetOrderStatus", "GetOrderStatus", "urn:orders",
		WithResponsePath("Orders", "Order"))

	result, err := tool.Invoke(context.Background(), map[string]any{"OrderID": "O1"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if gotAction != "urn:GetOrderStatus" {
		t.Fatalf("SOAPAction = %q, want urn:GetOrderStatus", gotAction)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("Rows = %#v, want 2 orders", result.Rows)
	}
	if result.Rows[0]["OrderID"] != "O1" || result.Rows[0]["Status"] != "SHIPPED" {
		t.Fatalf("Rows[0] = %#v, want OrderID=O1 Status=SHIPPED", result.Rows[0])
	}
}

func TestBindFieldsRejectsMissingRequired(t *testing.T) {
	t.Parallel()

	schema := []contractx.ParameterSpec{{Name: "OrderID", Required: true}}
	if _, err := bindFields(schema, map[string]any{}); err == nil {
		t.Fatal("expected an error for a missing required parameter")
	}
}

func TestLocalNameStripsNamespacePrefix(t *testing.T) {
	t.Parallel()

	if got := localName("tns:Order"); got != "Order" {
		t.Fatalf("localName() = %q, want Order", got)
	}
}
