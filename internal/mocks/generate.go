// Package mocks provides gomock implementations of the queue, storage, and pipeline ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	jobs := mocks.NewMockJobRepository(ctrl)
//	jobs.EXPECT().Complete(gomock.Any(), "job-1").Return(true, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/ticket-enhancer/internal/core JobRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=dead_set_repository_mock.go github.com/target/ticket-enhancer/internal/core DeadSetRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_maintenance_mock.go github.com/target/ticket-enhancer/internal/core JobMaintenance
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=tenant_repository_mock.go github.com/target/ticket-enhancer/internal/core TenantRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=result_repository_mock.go github.com/target/ticket-enhancer/internal/core ResultRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/ticket-enhancer/internal/core CacheRepository

// Pipeline ports: context sources, synthesis, ticketing, usage, archive, alerting.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=pipeline_mock.go github.com/target/ticket-enhancer/internal/ports ContextSource,Synthesizer,TicketClient,UsagePublisher,ResultArchiver,Alerter
