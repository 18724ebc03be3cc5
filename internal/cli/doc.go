// Package cli реализует инструмент командной строки promptplay.
//
// # Обзор
//
// Команды validate, run и batch run работают с файлом flow (.json, .yaml)
// локально: граф компилируется в engine.Plan и выполняется в процессе.
// Команды flow и batch submit/show обращаются к PostgreSQL и RabbitMQ
// по адресам из config.
//
// # Ключевые компоненты
//
// ## Env
//
// Конфигурация и логгер. Создаётся лениво после парсинга PersistentFlags,
// поэтому validate работает без конфигурации.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) по умолчанию
//   - JSON с флагом --json
//
// Данные выводятся в stdout, сообщения и события run в текстовом режиме
// в stderr. Это позволяет использовать pipe: promptplay run flow.yaml --json | jq .
//
// ## Commands
//
//   - validate FILE
//   - run FILE --input name=value --global id=value --events
//   - batch run FILE --csv rows.csv --map name=column --repeat N --concurrency K --out cells.csv
//   - batch submit FLOW_ID --csv rows.csv --map name=column
//   - batch show BATCH_ID
//   - flow push FILE, flow list, flow delete ID, flow set-global ID VALUE
//
// name это имя выхода Start-узла или ID коннектора. column это имя колонки
// из заголовка CSV или её номер с нуля.
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd и т.д.),
// принимающую envFn и outputFn.
package cli
