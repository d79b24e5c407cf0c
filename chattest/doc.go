// Package chattest contains helper builders and a scripted model double used
// across the module's tests to reduce boilerplate when constructing bus
// events, content values and canned model responses. These helpers are
// intentionally minimal and add no third-party dependencies beyond what the
// production code already imports. They are not intended for production
// use.
package chattest
