// Package jsfactory creates components from single script files.
//
// It serves plain scripts found on directory roots of the deployment
// loader. Project archives are left to the node factory; when both are
// registered under one prefix the node factory is consulted first.
package jsfactory
