package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/cloudsim/pkg/compute"
	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/functions"
	"github.com/openfroyo/cloudsim/pkg/orchestrator"
	"github.com/openfroyo/cloudsim/pkg/storage"
)

const demoAMI = "ami-0c55b159cbfafe1f0"

// demoTopology is a small web application stack.
func demoTopology() engine.Topology {
	return engine.Topology{
		engine.KindInstance: {
			{
				"instance_type": "t2.micro",
				"ami_id":        demoAMI,
				"tags":          map[string]any{"Name": "web-server-1", "Environment": "production"},
			},
			{
				"instance_type": "t2.small",
				"ami_id":        demoAMI,
				"tags":          map[string]any{"Name": "app-server-1", "Environment": "production"},
			},
		},
		engine.KindBucket: {
			{
				"bucket_name": "my-app-data-bucket",
				"region":      "us-east-1",
				"versioning":  true,
				"tags":        map[string]any{"Purpose": "application-data", "Environment": "production"},
			},
			{
				"bucket_name": "my-app-logs-bucket",
				"region":      "us-east-1",
				"tags":        map[string]any{"Purpose": "logs"},
			},
		},
		engine.KindDatabase: {
			{
				"db_instance_identifier": "myapp-db",
				"engine":                 "mysql",
				"instance_class":         "db.t3.micro",
				"allocated_storage":      20,
				"multi_az":               true,
				"tags":                   map[string]any{"Environment": "production"},
			},
		},
		engine.KindFunction: {
			{
				"function_name": "data-processor",
				"runtime":       "python3.9",
				"handler":       "index.handler",
				"memory_size":   256,
				"timeout":       30,
				"tags":          map[string]any{"Environment": "production"},
			},
		},
	}
}

// runDemoOperations exercises the kind modules directly after the demo
// topology is up. Resources it creates are returned so cleanup can remove
// them.
func runDemoOperations(ctx context.Context, orch *orchestrator.Orchestrator) ([]engine.Handle, error) {
	var created []engine.Handle

	inst, err := orch.Instances().CreateInstance(ctx, compute.InstanceSpec{
		InstanceType: "t3.medium",
		Tags:         map[string]string{"Name": "demo-instance"},
	})
	if err != nil {
		return created, fmt.Errorf("failed to create demo instance: %w", err)
	}
	created = append(created, engine.Handle{Kind: engine.KindInstance, ID: inst.ID})
	log.Info().Str("instance_id", inst.ID).Str("state", string(inst.State)).Msg("Created demo instance")

	inst, err = orch.Instances().StopInstance(ctx, inst.ID)
	if err != nil {
		return created, fmt.Errorf("failed to stop demo instance: %w", err)
	}
	log.Info().Str("instance_id", inst.ID).Str("state", string(inst.State)).Msg("Stopped demo instance")

	bucket, err := orch.Buckets().CreateBucket(ctx, storage.BucketSpec{Name: "demo-bucket-12345"})
	if err != nil {
		return created, fmt.Errorf("failed to create demo bucket: %w", err)
	}
	created = append(created, engine.Handle{Kind: engine.KindBucket, ID: bucket.ID, Name: bucket.Name})

	objects := []struct {
		key     string
		content string
		meta    map[string]string
	}{
		{key: "file1.txt", content: "Hello World!", meta: map[string]string{"content-type": "text/plain"}},
		{key: "data/file2.json", content: `{"key": "value"}`, meta: map[string]string{"content-type": "application/json"}},
	}
	for _, obj := range objects {
		v, err := orch.Buckets().PutObject(ctx, bucket.Name, obj.key, []byte(obj.content), obj.meta)
		if err != nil {
			return created, fmt.Errorf("failed to put %s: %w", obj.key, err)
		}
		log.Info().Str("bucket", bucket.Name).Str("key", obj.key).Str("etag", v.ETag).Msg("Uploaded object")
	}

	res, err := orch.Functions().Invoke(ctx, "data-processor", json.RawMessage(`{"data": "test"}`), functions.InvocationRequestResponse)
	if err != nil {
		return created, fmt.Errorf("failed to invoke data-processor: %w", err)
	}
	log.Info().
		Str("request_id", res.RequestID).
		Int("status_code", res.StatusCode).
		RawJSON("payload", res.Payload).
		Msg("Invoked data-processor")

	return created, nil
}
