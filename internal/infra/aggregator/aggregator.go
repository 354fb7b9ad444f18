package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// ConnectionClient is the per-connection operation surface the aggregator
// fans out over.
type ConnectionClient interface {
	Connection() domain.Connection
	Discover(ctx context.Context, userID string) ([]domain.RemoteTool, error)
	Invoke(ctx context.Context, userID, tool string, args json.RawMessage) (domain.ToolResult, error)
}

// Aggregator merges every configured connection into one namespaced tool
// surface. Discovery fans out with bounded concurrency and a per-connection
// timeout, so one slow or broken connection can only cost its own slot;
// every other connection's result is reported independently.
type Aggregator struct {
	clients map[string]ConnectionClient
	order   []string
	cfg     domain.GatewayConfig
	metrics domain.Metrics
	logger  *zap.Logger
}

func New(clients []ConnectionClient, cfg domain.GatewayConfig, metrics domain.Metrics, logger *zap.Logger) *Aggregator {
	byName := make(map[string]ConnectionClient, len(clients))
	order := make([]string, 0, len(clients))
	for _, client := range clients {
		name := client.Connection().Name
		byName[name] = client
		order = append(order, name)
	}
	return &Aggregator{
		clients: byName,
		order:   order,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("aggregator"),
	}
}

// DiscoverAll runs discovery against every connection for one user. Results
// come back in configuration order; a connection that fails contributes a
// typed unavailability marker, never a silent gap.
func (a *Aggregator) DiscoverAll(ctx context.Context, userID string) []domain.DiscoveryResult {
	requestID := uuid.NewString()
	started := time.Now()

	concurrency := a.cfg.DiscoverConcurrency
	if concurrency <= 0 {
		concurrency = domain.DefaultDiscoverConcurrency
	}

	results := make([]domain.DiscoveryResult, len(a.order))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, name := range a.order {
		wg.Add(1)
		go func(i int, client ConnectionClient) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = a.discoverOne(ctx, client, userID)
		}(i, a.clients[name])
	}
	wg.Wait()

	available := 0
	for _, res := range results {
		a.metrics.SetConnectionAvailability(res.Connection, res.Availability)
		if res.Available() {
			available++
		}
	}
	a.logger.Info("discovery completed",
		zap.String("requestId", requestID),
		zap.String("user", userID),
		zap.Int("connections", len(results)),
		zap.Int("available", available),
		zap.Duration("duration", time.Since(started)))
	return results
}

func (a *Aggregator) discoverOne(ctx context.Context, client ConnectionClient, userID string) domain.DiscoveryResult {
	conn := client.Connection()
	discoverCtx, cancel := context.WithTimeout(ctx, a.cfg.DiscoverTimeout())
	defer cancel()

	tools, err := client.Discover(discoverCtx, userID)
	if err != nil {
		a.logger.Warn("discovery failed",
			zap.String("connection", conn.Name),
			zap.String("user", userID),
			zap.Error(err))
		return domain.DiscoveryFailure(conn.Name, err)
	}

	descriptors := make([]domain.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		descriptors = append(descriptors, domain.ToolDescriptor{
			QualifiedName: domain.QualifyToolName(conn.Name, tool.Name),
			Connection:    conn.Name,
			Name:          tool.Name,
			Description:   tool.Description,
			InputSchema:   tool.InputSchema,
		})
	}
	return domain.DiscoveryResult{
		Connection:   conn.Name,
		Availability: domain.AvailabilityOK,
		Tools:        descriptors,
	}
}

// Catalog flattens the available discovery results into the merged tool
// list. Unavailable connections simply contribute nothing here; Status is
// the surface that reports them.
func (a *Aggregator) Catalog(ctx context.Context, userID string) []domain.ToolDescriptor {
	return MergeCatalog(a.DiscoverAll(ctx, userID))
}

func MergeCatalog(results []domain.DiscoveryResult) []domain.ToolDescriptor {
	var tools []domain.ToolDescriptor
	for _, res := range results {
		if res.Available() {
			tools = append(tools, res.Tools...)
		}
	}
	return tools
}

// Status summarizes per-connection availability for one user.
func (a *Aggregator) Status(ctx context.Context, userID string) []domain.ConnectionStatus {
	results := a.DiscoverAll(ctx, userID)
	statuses := make([]domain.ConnectionStatus, 0, len(results))
	for _, res := range results {
		statuses = append(statuses, domain.ConnectionStatus{
			Connection:   res.Connection,
			Availability: res.Availability,
			ToolCount:    len(res.Tools),
			Detail:       res.Detail,
		})
	}
	return statuses
}

// Invoke routes a qualified tool name to its connection and calls the tool
// under the per-invocation timeout. Whether the local tool exists is the
// remote server's call; the gateway only validates the routing prefix.
func (a *Aggregator) Invoke(ctx context.Context, userID, qualifiedName string, args json.RawMessage) (domain.ToolResult, error) {
	connection, tool, ok := domain.SplitQualifiedName(qualifiedName)
	if !ok {
		return domain.ToolResult{}, domain.E(domain.CodeInvalidArgument, "invoke",
			fmt.Sprintf("tool name %q is not of the form <connection>%s<tool>", qualifiedName, domain.QualifiedNameSeparator), nil)
	}
	client, exists := a.clients[connection]
	if !exists {
		return domain.ToolResult{}, domain.E(domain.CodeNotFound, "invoke",
			fmt.Sprintf("no connection %q for tool %q", connection, qualifiedName), domain.ErrConnectionNotFound)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, a.cfg.InvokeTimeout())
	defer cancel()

	requestID := uuid.NewString()
	started := time.Now()
	result, err := client.Invoke(invokeCtx, userID, tool, args)
	if err != nil {
		a.logger.Warn("invocation failed",
			zap.String("requestId", requestID),
			zap.String("tool", qualifiedName),
			zap.String("user", userID),
			zap.Error(err))
		return domain.ToolResult{}, err
	}
	a.logger.Info("invocation completed",
		zap.String("requestId", requestID),
		zap.String("tool", qualifiedName),
		zap.String("user", userID),
		zap.Bool("isError", result.IsError),
		zap.Duration("duration", time.Since(started)))
	return result, nil
}

// Connections lists the configured connection names in configuration order.
func (a *Aggregator) Connections() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}
