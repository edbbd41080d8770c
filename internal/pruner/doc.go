// Package pruner keeps working memory within its token budget by
// demoting aged, rarely-accessed blocks down the tier hierarchy. Each
// demoted block leaves behind a summary block holding a three-token
// w3w stand-in for its content.
package pruner
