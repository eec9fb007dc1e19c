// Package tabflow loads an exported bank-marketing classifier and scores raw
// records with it. The export bundles the fitted feature transform with the
// trained network, so callers pass records exactly as they appear in the raw
// data, minus the label.
//
// Quick start:
//
//	p, err := tabflow.Load(tabflow.WithModelDir("serving_model"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	preds, _ := p.Predict([]tabflow.Record{{
//	    "age": 41, "job": "technician", "duration": 310, ...
//	}})
//	fmt.Println(preds[0].Probability)
//
// A Predictor is safe for concurrent use. Load once, reuse across requests.
package tabflow
