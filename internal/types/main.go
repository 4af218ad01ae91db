package types

// Inventory holds the hosts a run can target, plus optional groups and
// inventory-wide variables.
type Inventory struct {
	Hosts     []Host                    `yaml:"hosts"`
	Groups    map[string][]string       `yaml:"groups,omitempty"`
	Vars      map[string]any            `yaml:"vars,omitempty"`
	GroupVars map[string]map[string]any `yaml:"group_vars,omitempty"`
}

// Host represents one machine in the inventory.
type Host struct {
	Name       string         `yaml:"name"`
	Address    string         `yaml:"address,omitempty"` // defaults to Name
	User       string         `yaml:"user,omitempty"`
	Password   string         `yaml:"password,omitempty"`
	Port       int            `yaml:"port,omitempty"`
	KeyPath    string         `yaml:"key_path,omitempty"` // Optional SSH key path
	Connection string         `yaml:"connection,omitempty"`
	Vars       map[string]any `yaml:"vars,omitempty"`
}

// Addr returns the network address used to reach the host.
func (h Host) Addr() string {
	if h.Address != "" {
		return h.Address
	}
	return h.Name
}

// Playbook is an ordered list of plays.
type Playbook struct {
	Path  string
	Plays []Play
}

// Play binds a host pattern to a list of tasks.
type Play struct {
	Name       string           `yaml:"name"`
	Hosts      string           `yaml:"hosts"`
	Vars       map[string]any   `yaml:"vars,omitempty"`
	Become     bool             `yaml:"become,omitempty"`
	BecomeUser string           `yaml:"become_user,omitempty"`
	Tasks      []TaskDefinition `yaml:"tasks"`
}

// TaskDefinition describes a single task to run (similar to an Ansible task).
type TaskDefinition struct {
	Name         string         `json:"name"   yaml:"name"`
	Module       string         `json:"module" yaml:"module"`
	Params       map[string]any `json:"params" yaml:"params"`
	Become       bool           `json:"become" yaml:"become"`
	BecomeUser   string         `json:"become_user,omitempty" yaml:"become_user,omitempty"`
	When         string         `json:"when,omitempty" yaml:"when,omitempty"`
	ChangedWhen  string         `json:"changed_when,omitempty" yaml:"changed_when,omitempty"`
	FailedWhen   string         `json:"failed_when,omitempty" yaml:"failed_when,omitempty"`
	IgnoreErrors bool           `json:"ignore_errors,omitempty" yaml:"ignore_errors,omitempty"`
	Register     string         `json:"register,omitempty" yaml:"register,omitempty"`
}

// Label is how the task is identified in logs and synthetic events.
func (t TaskDefinition) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Module
}

// ModuleOptions carries the run-wide switches a module has to honour.
type ModuleOptions struct {
	Check        bool
	Diff         bool
	Become       bool
	BecomeMethod string
	BecomeUser   string
	BecomePass   string // fed to sudo on stdin when set
}

// ModuleResult is what each module returns.
type ModuleResult struct {
	TaskName string         `json:"task_name"`
	Module   string         `json:"module"`
	Changed  bool           `json:"changed"`
	Failed   bool           `json:"failed"`
	Skipped  bool           `json:"skipped,omitempty"`
	Msg      string         `json:"msg"`
	RC       int            `json:"rc,omitempty"`
	Stdout   string         `json:"stdout,omitempty"`
	Stderr   string         `json:"stderr,omitempty"`
	Data     map[string]any `json:"-"` // module specific fields
}

// Payload flattens the result into the map handed to callbacks.
func (r ModuleResult) Payload() Payload {
	p := Payload{
		"changed": r.Changed,
		"failed":  r.Failed,
		"msg":     r.Msg,
	}
	if r.Skipped {
		p["skipped"] = true
	}
	if r.Stdout != "" || r.Stderr != "" || r.RC != 0 {
		p["rc"] = r.RC
		p["stdout"] = r.Stdout
		p["stderr"] = r.Stderr
	}
	for k, v := range r.Data {
		if _, ok := p[k]; !ok {
			p[k] = v
		}
	}
	return p
}

// Payload is the opaque per-task result carried by an event.
type Payload map[string]any

// TaskEvent is one task outcome on one host.
type TaskEvent struct {
	Host   Host
	Task   TaskDefinition
	Result Payload
}
