package telemetry_test

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/topd/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	op := telemetry.StartOperation(ctx, telemetry.SpanRender,
		telemetry.AttrEnvironment.String("base"),
	)
	op.Logger.Debug("Assembling top")
	op.End(nil)

	fmt.Println(tel.Config.ServiceName)
	// Output: topd
}

// Example_eventSubscription demonstrates subscribing to render events.
func Example_eventSubscription() {
	publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		panic(err)
	}
	defer publisher.Shutdown(context.Background())

	publisher.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Environment, e.Namespace)
	}, telemetry.FilterByType(telemetry.EventTypeTopRendered))

	_ = publisher.PublishTopFailed("base", "state", "fragment_parse", "bad yaml")
	_ = publisher.PublishTopRendered("base", "state", "abc123", 2, 5*time.Millisecond)
	// Output: top.rendered base state
}

// Example_jsonLogging demonstrates a JSON logger writing to a chosen stream.
func Example_jsonLogging() {
	logger := telemetry.NewWriterLogger(os.Stdout, telemetry.LoggingConfig{
		Level:  "warn",
		Format: "json",
	})
	logger.Info("dropped below warn")
	fmt.Println("done")
	// Output: done
}
