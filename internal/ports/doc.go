// Package ports defines the interfaces (ports) that connect the coalescing
// core to infrastructure adapters.
//
// In Hexagonal Architecture, ports are the boundaries between the application
// core and the outside world. They define what the core needs from external
// systems without specifying how those needs are fulfilled.
//
// # Port Interfaces
//
//   - [DevicePort]: Owns the OS-level serial handle; upstream byte source
//   - [ReceiveSink]: The two entry points a transport invokes on the core
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with concrete
// implementations (termios serial port, test fakes).
package ports
