// Package wire defines the JSON messages exchanged between participants and
// coordinators.
//
// Every message is an Envelope {"msg": <type>, "data": {...}}. Field names
// inside data are camelCase for interop with browser clients.
//
// Message types:
//
//	op                sequenced operation broadcast by an origin coordinator
//	submit            unsequenced draft from a thin client
//	presence          pointer position, lossy
//	snapshot          full session state
//	snapshot_request  ask the authority for a snapshot
//	resync            tell replicas the sender lost broadcasts
//	layer             replicated layer state
//	layer_cmd         layer command from a thin client
//	undo, redo        thin client history commands
//	error             error addressed to one participant
package wire
