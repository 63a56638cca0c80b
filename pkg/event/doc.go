// Package event はサービス間で共有するドメインイベントの型と、
// Event Storeへの追記クライアントを提供する。
package event
