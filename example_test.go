package taorunner_test

import (
	"context"
	"errors"
	"fmt"

	taorunner "github.com/oat-sa/tao-offline-runner"
	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// deadTransport simulates a network that is down from the start.
type deadTransport struct{}

func (deadTransport) Send(ctx context.Context, endpoint string, payload any) (*domain.ServerResponse, error) {
	return nil, &domain.ConnectivityError{Op: endpoint, Err: errors.New("connection refused")}
}

func (deadTransport) Probe(ctx context.Context) error {
	return &domain.ConnectivityError{Op: "up", Err: errors.New("connection refused")}
}

// Example shows a session that keeps progressing while the server is
// unreachable: navigation resolves locally and every action is queued
// for later synchronization.
func Example() {
	runner, err := taorunner.New("demo",
		taorunner.WithTransport(deadTransport{}),
		taorunner.WithPrefetchWindow(0),
	)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer runner.Close()

	ctx := context.Background()
	testMap := &domain.TestMap{
		Parts: []domain.TestPart{{
			ID: "part-1",
			Sections: []domain.TestSection{{
				ID: "section-a",
				Items: []domain.TestItem{
					{ID: "item-1", Position: 0},
					{ID: "item-2", Position: 1},
				},
			}},
		}},
	}
	runner.Init(ctx, testMap, &domain.TestContext{
		ItemIdentifier: "item-1",
		SectionID:      "section-a",
		TestPartID:     "part-1",
		State:          domain.SessionInteracting,
	})

	if _, err := runner.SubmitItem(ctx, "item-1", map[string]any{"RESPONSE": "42"}, nil); err != nil {
		fmt.Println(err)
		return
	}

	pending, _ := runner.Pending(ctx)
	fmt.Printf("connectivity: %s\n", runner.Connectivity())
	fmt.Printf("pending actions: %d\n", pending)

	// Output:
	// connectivity: offline
	// pending actions: 1
}
