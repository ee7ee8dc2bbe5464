package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCleanup は保持期間を超えた未承認コメントを削除することを示す。
	CommandCleanup Command = "cleanup"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandLogin はアクセストークンを検証して保存することを示す。
	CommandLogin Command = "login"
	// CommandWhoami は保存済みセッションを復元し、主体とロールを表示することを示す。
	CommandWhoami Command = "whoami"
	// CommandLogout はセッションを破棄することを示す。
	CommandLogout Command = "logout"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "cleanup":
		return CommandCleanup
	case "healthcheck":
		return CommandHealthcheck
	case "login":
		return CommandLogin
	case "whoami":
		return CommandWhoami
	case "logout":
		return CommandLogout
	default:
		return CommandServe
	}
}

// isClientCommand はサーバー設定を必要としないセッション操作コマンドかどうかを返す。
func isClientCommand(cmd Command) bool {
	return cmd == CommandLogin || cmd == CommandWhoami || cmd == CommandLogout
}
