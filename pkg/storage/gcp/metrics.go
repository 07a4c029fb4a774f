// File: pkg/storage/gcp/metrics.go
package gcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"objstore/internal/local"
	"objstore/pkg/storage"

	monitoring "cloud.google.com/go/monitoring/apiv3/v2"
	monitoringpb "cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	"google.golang.org/api/iterator"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const metricTimeWindow = 72 * time.Hour

// ErrMetricsNotFound indicates that the usage metrics could not be found within the queried time range
// This often happens for new buckets that haven't reported metrics yet
var ErrMetricsNotFound = errors.New("usage metrics not found in the monitoring window")

// Reports the bucket's stored bytes from Cloud Monitoring. Requires a
// project; without one, or for a bucket with no recent samples, the error
// is NotSupported so callers can fall back to listing.
func (s *Store) Usage(ctx context.Context) (int64, error) {
	if s.cfg.Project == "" {
		return 0, s.fail(storage.OpUsage, "", &storage.Error{Kind: storage.KindNotSupported, Err: errors.New("usage metrics require a GCP project")})
	}

	s.logger.Debug("Fetching bucket usage metric via Monitoring API", "project", s.cfg.Project)
	usage, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (int64, error) {
		return local.Call(ctx, t, func(ctx context.Context) (int64, error) {
			client, err := monitoring.NewMetricClient(ctx, s.cfg.clientOptions()...)
			if err != nil {
				return 0, fmt.Errorf("failed to create monitoring client: %w", err)
			}
			defer client.Close()

			it := client.ListTimeSeries(ctx, usageRequest(s.cfg.Project, s.cfg.Bucket, time.Now()))
			resp, err := it.Next()
			if err == iterator.Done {
				return 0, ErrMetricsNotFound
			}
			if err != nil {
				return 0, fmt.Errorf("error getting metric data for bucket %s: %w", s.cfg.Bucket, err)
			}
			return seriesUsage(resp)
		}, nil)
	})
	if errors.Is(err, ErrMetricsNotFound) {
		return 0, s.fail(storage.OpUsage, "", &storage.Error{Kind: storage.KindNotSupported, Err: err})
	}
	if err != nil {
		return 0, s.fail(storage.OpUsage, "", err)
	}
	return usage, nil
}

// Total bytes of one bucket, averaged over the window and summed across
// storage classes into a single series
func usageRequest(project, bucket string, endTime time.Time) *monitoringpb.ListTimeSeriesRequest {
	return &monitoringpb.ListTimeSeriesRequest{
		Name:   fmt.Sprintf("projects/%s", project),
		Filter: fmt.Sprintf(`metric.type="storage.googleapis.com/storage/v2/total_bytes" AND resource.labels.bucket_name="%s"`, bucket),
		Interval: &monitoringpb.TimeInterval{
			StartTime: timestamppb.New(endTime.Add(-metricTimeWindow)),
			EndTime:   timestamppb.New(endTime),
		},
		Aggregation: &monitoringpb.Aggregation{
			AlignmentPeriod:    durationpb.New(metricTimeWindow),
			PerSeriesAligner:   monitoringpb.Aggregation_ALIGN_MEAN,
			CrossSeriesReducer: monitoringpb.Aggregation_REDUCE_SUM,
			GroupByFields:      []string{"resource.labels.bucket_name"},
		},
	}
}

// Returns the newest point of the aggregated series
func seriesUsage(series *monitoringpb.TimeSeries) (int64, error) {
	points := series.GetPoints()
	if len(points) == 0 {
		return 0, ErrMetricsNotFound
	}
	return extractUsageValue(points[0].GetValue()), nil
}

func extractUsageValue(pointValue *monitoringpb.TypedValue) int64 {
	if pointValue == nil {
		return 0
	}

	switch v := pointValue.Value.(type) {
	case *monitoringpb.TypedValue_DoubleValue:
		return int64(math.Round(v.DoubleValue))
	case *monitoringpb.TypedValue_Int64Value:
		return v.Int64Value
	default:
		return 0
	}
}
