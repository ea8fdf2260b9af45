// Package device defines the transport contract the link layer drives:
// characteristic references and capabilities, completion statuses, and the
// asynchronous Transport/Handle/Callbacks triple implemented by concrete
// BLE stacks.
//
// It also carries the shared error taxonomy:
//   - ConnectionError sentinels for connection-state violations
//   - NotFoundError for unknown services and characteristics
//   - ErrTransient, ErrSecurity, ErrUnsupported, ErrTransportUnavailable
package device
