package coordinator

// ServiceRegistration is submitted to the coordinator's agent catalog.
// Field names and JSON tags mirror Consul's /v1/agent/service/register
// payload exactly — bit-exact wire compatibility is required (spec §6).
type ServiceRegistration struct {
	ID      string      `json:"ID"`
	Name    string      `json:"Name"`
	Address string      `json:"Address"`
	Port    int         `json:"Port"`
	Check   HealthCheck `json:"Check"`
}

// HealthCheck describes the HTTP health check the coordinator runs
// against this service.
type HealthCheck struct {
	HTTP                           string `json:"HTTP"`
	Interval                       string `json:"Interval"`
	Timeout                        string `json:"Timeout"`
	DeregisterCriticalServiceAfter string `json:"DeregisterCriticalServiceAfter"`
}

// sessionCreateRequest is the body of PUT /v1/session/create.
type sessionCreateRequest struct {
	Name      string `json:"Name"`
	TTL       string `json:"TTL"`
	LockDelay string `json:"LockDelay"`
	Behavior  string `json:"Behavior"`
}

// sessionCreateResponse is the body the coordinator returns on success.
type sessionCreateResponse struct {
	ID string `json:"ID"`
}

// lockPayload is the body PUT to the election key on acquire/release.
type lockPayload struct {
	Leader string `json:"leader"`
}

// LockState is what GET /v1/kv/{key} reports while the key exists.
type LockState struct {
	Session     string `json:"Session"`
	ModifyIndex uint64 `json:"ModifyIndex"`
}
