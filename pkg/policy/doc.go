// Package policy admits or denies deployments with Open Policy Agent.
//
// Each policy is a Rego module defining a deny set in its package. The
// input document describes the deployment:
//
//	{
//	  "deployment": {
//	    "identifier": "nodejs:dist/http-server.zip",
//	    "prefix": "nodejs",
//	    "name": "dist/http-server.zip",
//	    "archive": true,
//	    "isolated": true,
//	    "classpath": []
//	  },
//	  "context": {"timestamp": "...", "operation": "deploy", "environment": "production"}
//	}
//
// A deny member is a message string or an object with "message" and
// "severity". Violations of severity error or critical block the deployment;
// other severities are logged as warnings.
//
//	package scripthost.admission.custom
//
//	import rego.v1
//
//	deny contains violation if {
//		input.deployment.prefix == "js"
//		not input.deployment.isolated
//		violation := {"message": "plain scripts must be isolated", "severity": "error"}
//	}
//
// Engine implements container.Admitter. Built-in policies are always present;
// policies loaded from files replace each other on reload, and Loader.Watch
// reloads them when files change.
package policy
