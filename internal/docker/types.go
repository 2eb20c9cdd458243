package docker

// ContainerInfo represents a container publishing a host port
type ContainerInfo struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Image  string        `json:"image"`
	State  string        `json:"state"`
	Status string        `json:"status"`
	Ports  []PortBinding `json:"ports"`
}

// PortBinding represents a container port binding
type PortBinding struct {
	PrivatePort uint16 `json:"private_port"`
	PublicPort  uint16 `json:"public_port"`
	Type        string `json:"type"`
	IP          string `json:"ip"`
}

// ContainerList contains the containers bound to a port
type ContainerList struct {
	Port       uint16          `json:"port"`
	Containers []ContainerInfo `json:"containers"`
	Total      int             `json:"total"`
}
