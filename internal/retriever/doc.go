// Package retriever ranks memory blocks against free-text queries
// using lexical similarity, keyword overlap, w3w matching, and tier
// recency bonuses. Retrieval feeds access signals to the nexus manager
// and promotes repeatedly accessed blocks back toward working memory.
package retriever
