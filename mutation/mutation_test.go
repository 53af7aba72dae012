package mutation

import (
	"encoding/json"
	"testing"
)

func TestHashHTML(t *testing.T) {
	a := HashHTML([]byte("<p>a</p>"))
	if len(a) != 64 {
		t.Fatalf("hash length: got %d, want 64", len(a))
	}
	if a == HashHTML([]byte("<p>b</p>")) {
		t.Error("different inputs hash equal")
	}
}

func TestDecodeBatch(t *testing.T) {
	b := Batch{
		ID:     "b1",
		PageID: "tab-1",
		Seq:    3,
		Records: []Record{
			{Op: OpInsert, XPath: "/html/body", Position: 2, NodeType: 1, Tag: "div", HTML: "<div class=\"promo\"></div>"},
			{Op: OpAttrDel, XPath: "/html/body/div", Name: "hidden"},
		},
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBatch(data)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if got.Seq != 3 || len(got.Records) != 2 || got.Records[0].Position != 2 {
		t.Errorf("decoded: %+v", got)
	}
	if _, err := DecodeBatch([]byte("{")); err == nil {
		t.Error("malformed batch accepted")
	}
}
