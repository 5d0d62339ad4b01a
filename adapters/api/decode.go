package api

import (
	"fmt"
	"time"

	"vitalsdash/domain/vitals"
	"vitalsdash/internal/errors"

	"github.com/tidwall/gjson"
)

// DecodeDocuments parses an upstream response body: a JSON array of metric
// documents. A single level of nested arrays is flattened, since some
// backend revisions wrap the document list in another array.
func DecodeDocuments(body []byte) ([]vitals.MetricDocument, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.InvalidInput("upstream response is not valid JSON")
	}

	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, errors.InvalidInput(fmt.Sprintf("expected a JSON array of documents, got %s", root.Type))
	}

	docs := []vitals.MetricDocument{}
	for i, item := range root.Array() {
		elems := []gjson.Result{item}
		if item.IsArray() {
			elems = item.Array()
		}
		for j, elem := range elems {
			doc, err := decodeDocument(elem)
			if err != nil {
				return nil, errors.Wrapf(err, "document %d.%d", i, j)
			}
			docs = append(docs, doc)
		}
	}

	return docs, nil
}

func decodeDocument(doc gjson.Result) (vitals.MetricDocument, error) {
	if !doc.IsObject() {
		return vitals.MetricDocument{}, errors.InvalidInput("document is not an object")
	}

	out := vitals.MetricDocument{
		ID:        decodeID(doc),
		Metric:    doc.Get("metric").String(),
		Unit:      doc.Get("unit").String(),
		CreatedAt: doc.Get("createdAt").String(),
		UpdatedAt: doc.Get("updatedAt").String(),
	}

	avg, lo, hi := doc.Get("totalAverage"), doc.Get("totalMin"), doc.Get("totalMax")
	if avg.Exists() || lo.Exists() || hi.Exists() {
		out.Totals = &vitals.Totals{
			TotalAverage: avg.Float(),
			TotalMin:     lo.Float(),
			TotalMax:     hi.Float(),
		}
	}

	monthly := doc.Get("monthlyData")
	if monthly.Exists() && !monthly.IsArray() {
		return vitals.MetricDocument{}, errors.InvalidInput("monthlyData is not an array")
	}

	out.MonthlyData = []vitals.MonthlyBucket{}
	for i, b := range monthly.Array() {
		bucket, err := decodeBucket(b)
		if err != nil {
			return vitals.MetricDocument{}, errors.Wrapf(err, "monthlyData[%d]", i)
		}
		out.MonthlyData = append(out.MonthlyData, bucket)
	}

	return out, nil
}

// decodeID accepts "_id" (plain or {"$oid": ...}) and falls back to "id".
func decodeID(doc gjson.Result) string {
	id := doc.Get("_id")
	if !id.Exists() {
		id = doc.Get("id")
	}
	if id.IsObject() {
		return id.Get("$oid").String()
	}
	return id.String()
}

func decodeBucket(b gjson.Result) (vitals.MonthlyBucket, error) {
	if !b.IsObject() {
		return vitals.MonthlyBucket{}, errors.InvalidInput("bucket is not an object")
	}

	bucket := vitals.MonthlyBucket{
		Month:    b.Get("month").String(),
		Average:  b.Get("average").Float(),
		Min:      b.Get("min").Float(),
		Max:      b.Get("max").Float(),
		Readings: []vitals.SensorReading{},
	}

	for i, r := range b.Get("readings").Array() {
		value := r.Get("value")
		if value.Type != gjson.Number {
			return vitals.MonthlyBucket{}, errors.InvalidInput(fmt.Sprintf("readings[%d].value is not a number", i))
		}
		bucket.Readings = append(bucket.Readings, vitals.SensorReading{
			Date:  decodeDate(r.Get("date")),
			Value: value.Float(),
		})
	}

	return bucket, nil
}

// decodeDate keeps string timestamps verbatim and renders numeric ones,
// taken as Unix milliseconds, as RFC 3339.
func decodeDate(v gjson.Result) string {
	if v.Type == gjson.Number {
		return time.UnixMilli(v.Int()).UTC().Format(time.RFC3339Nano)
	}
	return v.String()
}
