// Package nodejs hosts packaged node-style script projects as container
// components.
//
// A project is a zip archive (or directory) holding a package.json. It is
// eligible when the manifest declares a node engine or a node_modules entry
// sits next to it:
//
//	http-server.zip
//	├── package.json      {"engines": {"node": "0.10.x"}, "main": "server.js"}
//	├── server.js
//	└── node_modules/
//
// Deployment runs in two phases. Factory.Resolve checks the Capability,
// requires an isolating loader, detects the project and extracts the archive
// into a sibling directory named after it without its suffix
// (http-server.zip → http-server/). Factory.Create then compiles the entry
// script from that directory and returns a Component. Starting the component
// submits the script to the interpreter and returns immediately; the exit
// status is logged, counted and forwarded to the container's FaultReporter.
//
// The Capability is computed once with Probe and passed to NewFactory:
//
//	capability := nodejs.Probe(nodejs.ProbeConfig{})
//	factory := nodejs.NewFactory(nodejs.DefaultFactoryConfig(capability))
//
// A disabled capability makes every resolution fail with MsgDisabled.
package nodejs
