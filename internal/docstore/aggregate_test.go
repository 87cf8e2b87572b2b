package docstore

import "testing"

func invoices() []Document {
	return []Document{
		{"client": "Acme", "amount": 100.0, "paid": true},
		{"client": "Acme", "amount": 250.0, "paid": false},
		{"client": "Globex", "amount": 400.0, "paid": true},
		{"client": "Globex", "amount": 50.0, "paid": true},
	}
}

func TestPipelineMatchGroupSort(t *testing.T) {
	out, err := RunPipeline(invoices(), []Document{
		{"$match": Document{"paid": true}},
		{"$group": Document{
			"_id":   "$client",
			"total": Document{"$sum": "$amount"},
			"count": Document{"$sum": 1},
		}},
		{"$sort": Document{"total": -1}},
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d groups, want 2", len(out))
	}
	if out[0]["_id"] != "Globex" || out[0]["total"] != 450.0 {
		t.Errorf("first group = %v", out[0])
	}
	if out[1]["_id"] != "Acme" || out[1]["count"] != 1.0 {
		t.Errorf("second group = %v", out[1])
	}
}

func TestPipelineAvgMinMax(t *testing.T) {
	out, err := RunPipeline(invoices(), []Document{
		{"$group": Document{
			"_id": nil,
			"avg": Document{"$avg": "$amount"},
			"min": Document{"$min": "$amount"},
			"max": Document{"$max": "$amount"},
		}},
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d docs", len(out))
	}
	if out[0]["avg"] != 200.0 || out[0]["min"] != 50.0 || out[0]["max"] != 400.0 {
		t.Errorf("stats = %v", out[0])
	}
}

func TestPipelineProjectAndLimit(t *testing.T) {
	out, err := RunPipeline(invoices(), []Document{
		{"$sort": Document{"amount": -1}},
		{"$limit": 2},
		{"$project": Document{"client": 1, "value": "$amount"}},
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d docs, want 2", len(out))
	}
	if out[0]["client"] != "Globex" || out[0]["value"] != 400.0 {
		t.Errorf("projected = %v", out[0])
	}
	if _, ok := out[0]["amount"]; ok {
		t.Error("unprojected field leaked through")
	}
}

func TestPipelineCount(t *testing.T) {
	out, err := RunPipeline(invoices(), []Document{
		{"$match": Document{"paid": true}},
		{"$count": "paid_invoices"},
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(out) != 1 || out[0]["paid_invoices"] != 3 {
		t.Errorf("count = %v", out)
	}
}

func TestPipelineUnknownStage(t *testing.T) {
	if _, err := RunPipeline(invoices(), []Document{{"$lookup": Document{}}}); err == nil {
		t.Fatal("unknown stage should fail the pipeline")
	}
}

func TestPipelineSkip(t *testing.T) {
	out, err := RunPipeline(invoices(), []Document{
		{"$sort": Document{"amount": 1}},
		{"$skip": 3},
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(out) != 1 || out[0]["amount"] != 400.0 {
		t.Errorf("out = %v", out)
	}
}
