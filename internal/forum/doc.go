// Package forum はコミュニティフォーラムの内部実装を提供する。
//
// 投稿、コメント、いいねを扱う。コメントと新しいいいねは投稿者に通知されるが、
// 投稿者自身の操作では通知しない。投稿の削除は投稿者または管理者だけが行える。
package forum
