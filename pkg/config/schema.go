package config

// hostSchema constrains host configuration before it is decoded. It is
// unified with CUE sources and with YAML encoded into CUE.
const hostSchema = `
#Prefix: string & =~"^[a-z][a-z0-9_-]*$"

#Deployment: {
	identifier: string & =~"^[a-z][a-z0-9_-]*:.+$"
	isolated?:  bool
	classpath?: [...string]
	config?: {...}
}

#HostConfig: {
	host?: {
		classpath?: [...string]
		shutdown_timeout_seconds?: int & >=0
	}
	nodejs?: {
		enabled?:        bool
		prefix?:         #Prefix
		order?:          int
		version_prefix?: string & !=""
		min_version?:    string
		env?: [string]: string
		args?: [...string]
	}
	scripts?: {
		enabled?: bool
		prefix?:  #Prefix
		order?:   int
	}
	store?: {
		enabled?: bool
		path?:    string
	}
	policy?: {
		enabled?: bool
		paths?: [...string]
		watch?: bool
		disabled?: [...string]
	}
	telemetry?: {...}
	deployments?: [...#Deployment]
}
`
