// Package config loads script host configuration.
//
// Configuration is written in CUE or YAML. Both are checked against a
// built-in CUE schema, overlaid on Default and validated with struct tags:
//
//	nodejs: {
//		prefix: "nodejs"
//		order:  -1
//	}
//	store: {
//		enabled: true
//		path:    "/var/lib/scripthost/state.db"
//	}
//	deployments: [{
//		identifier: "nodejs:/srv/apps/http-server.zip"
//		isolated:   true
//	}]
//
// Errors are reported as ValidationErrors carrying file positions when the
// source provides them.
package config
