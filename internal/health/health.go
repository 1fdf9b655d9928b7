// Package health публикует состояние хранилища через gRPC health protocol.
package health

import (
	gobreaker "github.com/sony/gobreaker/v2"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"neuralnexus/internal/logging"
)

// CloudService имя сервиса облачного хранилища в health протоколе
const CloudService = "storage.cloud"

// Checker держит статусы сервиса ("") и облачного хранилища
type Checker struct {
	server *grpchealth.Server
}

func NewChecker() *Checker {
	s := grpchealth.NewServer()
	s.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.SetServingStatus(CloudService, healthpb.HealthCheckResponse_SERVING)
	return &Checker{server: s}
}

// Register подключает health сервис к gRPC серверу
func (c *Checker) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, c.server)
}

// Server health сервер, используется в тестах и для прямых проверок
func (c *Checker) Server() healthpb.HealthServer {
	return c.server
}

// SetCloudAvailable NOT_SERVING для storage.cloud, пока основное хранилище недоступно
func (c *Checker) SetCloudAvailable(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.server.SetServingStatus(CloudService, status)
}

// OnBreakerStateChange подходит для storage.FailoverSettings.OnStateChange
func (c *Checker) OnBreakerStateChange(from, to gobreaker.State) {
	c.SetCloudAvailable(to != gobreaker.StateOpen)
	logging.Debug().Str("from", from.String()).Str("to", to.String()).Msg("[Health] Cloud storage status updated")
}

// Shutdown переводит все сервисы в NOT_SERVING перед остановкой
func (c *Checker) Shutdown() {
	c.server.Shutdown()
}
