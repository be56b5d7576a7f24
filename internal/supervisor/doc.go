// Package supervisor reads and rewrites the supervisord program configuration
// of the node and drives supervisorctl.
//
// The configuration is parsed once into a Document: the INI structure is
// validated with gopkg.in/ini.v1 and the single command directive is located
// down to the byte span of its binary path. Rewriting replaces that span and
// nothing else, so comments, ordering, arguments and line endings survive.
//
// Reloading is global: "supervisorctl reread" and "update" apply pending
// changes of every program supervisord manages, not only the node.
package supervisor
