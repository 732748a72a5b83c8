// Package cmcd parses and renders Common Media Client Data key/value strings.
//
// A CMCD string is a comma-separated list of tokens, each either a bare key
// (a boolean flag) or key=value:
//
//	br=3200,bs,d=4004,mtp=25400,ot=v,rtp=15000,sid="6e2fb550-c457-11e9-bb97-0800200c9a66",tb=6000
//
// Parse is a best-effort reader: malformed tokens are skipped, unknown keys
// pass through untouched, and values are typed by inspection (integer, float,
// boolean, string). No validation against the CMCD key registry is done.
package cmcd
